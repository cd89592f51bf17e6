// Package usermgmt provides the account store used to authenticate ssh-shell users.
//
// Features:
//   - Thread-safe user database persisted as a JSON file
//   - Password hashing (bcrypt) and credential verification
//   - Roles and authorized public keys per account
//   - Account operations: add, remove, enable, disable, change password
//   - Backup of the user database
//   - Interactive management console running on the shell interpreter
//
// Usage:
//  1. Open the database with Open
//  2. Pass the UserDB to auth as PasswordChecker, KeyChecker and RoleResolver
//  3. Use a Manager for administrative commands or run its Console
package usermgmt
