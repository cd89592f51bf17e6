package shell

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipe struct {
	io.Reader
	io.Writer
	closed bool
}

func (p *pipe) Close() error {
	p.closed = true
	return nil
}

type brokenWriter struct{ writes int }

func (w *brokenWriter) Write(p []byte) (int, error) {
	w.writes++
	return 0, errors.New("broken pipe")
}

func readAll(t *testing.T, lio LineIO) []string {
	t.Helper()
	var lines []string
	for {
		line, err := lio.ReadLine("")
		if errors.Is(err, io.EOF) {
			return lines
		}
		require.NoError(t, err)
		lines = append(lines, line)
	}
}

func TestStreamIO_ReadLine(t *testing.T) {
	tests := map[string]struct {
		input string
		want  []string
	}{
		"lf":               {input: "greet bob\nbye\n", want: []string{"greet bob", "bye"}},
		"cr":               {input: "greet bob\rbye\r", want: []string{"greet bob", "bye"}},
		"crlf":             {input: "greet bob\r\nbye\r\n", want: []string{"greet bob", "bye"}},
		"mixed":            {input: "a\r\nb\rc\nd", want: []string{"a", "b", "c", "d"}},
		"empty_lines":      {input: "\n\r\n\r", want: []string{"", "", ""}},
		"blank_after_crlf": {input: "a\r\n\nb\n", want: []string{"a", "", "b"}},
		"unterminated":     {input: "bye", want: []string{"bye"}},
		"no_input":         {input: "", want: nil},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer
			lio := NewStreamIO(&pipe{Reader: strings.NewReader(tt.input), Writer: &out})
			assert.Equal(t, tt.want, readAll(t, lio))
		})
	}
}

func TestStreamIO_Prompt(t *testing.T) {
	var out bytes.Buffer
	lio := NewStreamIO(&pipe{Reader: strings.NewReader("greet\n"), Writer: &out})

	line, err := lio.ReadLine("alice@10.0.0.5> ")
	require.NoError(t, err)
	assert.Equal(t, "greet", line)
	assert.Equal(t, "alice@10.0.0.5> ", out.String())

	lio.Println("Hello there!")
	assert.Equal(t, "alice@10.0.0.5> \rHello there!\n\r", out.String())
}

func TestStreamIO_LineTooLong(t *testing.T) {
	input := strings.Repeat("x", MaxLineLength+1) + "\n"
	lio := NewStreamIO(&pipe{Reader: strings.NewReader(input), Writer: io.Discard})

	_, err := lio.ReadLine("")
	assert.ErrorIs(t, err, ErrLineTooLong)

	exact := strings.Repeat("y", MaxLineLength) + "\n"
	lio = NewStreamIO(&pipe{Reader: strings.NewReader(exact), Writer: io.Discard})
	line, err := lio.ReadLine("")
	require.NoError(t, err)
	assert.Len(t, line, MaxLineLength)
}

func TestStreamIO_Close(t *testing.T) {
	var out bytes.Buffer
	p := &pipe{Reader: strings.NewReader(""), Writer: &out}
	lio := NewStreamIO(p)

	require.NoError(t, lio.Close())
	assert.True(t, p.closed)
	require.NoError(t, lio.Close())

	lio.Println("too late")
	lio.Print("still too late")
	assert.Empty(t, out.String())
}

func TestStreamIO_WriteFailure(t *testing.T) {
	w := &brokenWriter{}
	lio := NewStreamIO(&pipe{Reader: strings.NewReader(""), Writer: w})

	assert.NotPanics(t, func() {
		lio.Println("one")
		lio.Println("two")
		lio.Print("three")
	})
	assert.Equal(t, 1, w.writes)
}

func TestTerminalIO(t *testing.T) {
	var out bytes.Buffer
	p := &pipe{Reader: strings.NewReader("greet bob\r"), Writer: &out}
	lio := NewTerminalIO(p, 120, 40)

	line, err := lio.ReadLine("bob@127.0.0.1> ")
	require.NoError(t, err)
	assert.Equal(t, "greet bob", line)
	assert.Contains(t, out.String(), "bob@127.0.0.1> ")
	assert.Contains(t, out.String(), "greet bob")

	_, err = lio.ReadLine("bob@127.0.0.1> ")
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, lio.Resize(100, 30))

	out.Reset()
	lio.Println("Hey bob! Nice to see you!")
	assert.Contains(t, out.String(), "Hey bob! Nice to see you!\r\n")

	require.NoError(t, lio.Close())
	assert.True(t, p.closed)

	out.Reset()
	lio.Println("after close")
	assert.Empty(t, out.String())
}
