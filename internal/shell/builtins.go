package shell

import (
	"fmt"
	"strings"
)

// RegisterBuiltins adds the stock commands (greet, bye, clear, help) to r.
func RegisterBuiltins(r *Registry) {
	r.HandleFunc("greet", Greet)
	r.Describe("greet", "greet [name] - say hello")

	r.HandleFunc("bye", Bye)
	r.Describe("bye", "bye - end the session")

	r.HandleFunc("clear", Clear)
	r.Describe("clear", "clear - clear the screen")

	r.HandleFunc("help", Help)
	r.Describe("help", "help [command] - list commands or describe one")
}

// Greet greets the named person, or everyone.
func Greet(s *Session, arg string) bool {
	if arg != "" {
		s.Println(fmt.Sprintf("Hey %s! Nice to see you!", arg))
	} else {
		s.Println("Hello there!")
	}
	return false
}

// Bye says goodbye and ends the session.
func Bye(s *Session, _ string) bool {
	s.Println("See you later!")
	return true
}

// Clear resets the remote terminal.
func Clear(s *Session, _ string) bool {
	s.Print("\033c")
	return false
}

// Help lists the registered commands, or prints the help text of one.
func Help(s *Session, arg string) bool {
	reg := s.Registry()

	if topic := strings.TrimSpace(arg); topic != "" {
		text, ok := reg.Help(topic)
		switch {
		case !ok:
			s.Println(fmt.Sprintf(`Command "%s" not found`, topic))
		case text == "":
			s.Println(fmt.Sprintf(`No help for "%s"`, topic))
		default:
			s.Println(text)
		}
		return false
	}

	s.Println("Available commands:")
	for _, verb := range reg.Verbs() {
		text, _ := reg.Help(verb)
		if text == "" {
			text = verb
		}
		s.Println("  " + text)
	}
	return false
}
