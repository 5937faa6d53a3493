// Package iocli abstracts terminal input and output so commands can be
// tested against scripted IO.
package iocli

// IO is the terminal surface the CLI commands use.
type IO interface {
	Println(a ...any)
	Printf(format string, a ...any)
	ReadInput(prompt string) (string, error)
	ReadPassword(prompt string) (string, error)
	Write(p []byte) (n int, err error)
}
