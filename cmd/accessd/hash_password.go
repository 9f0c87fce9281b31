package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/example/access-control/internal/application"
)

// HashPasswordCmd prints an argon2id hash. Without an argument the password
// is read from the first line of stdin, keeping it out of shell history.
type HashPasswordCmd struct {
	Password string `arg:"" optional:"" help:"Password to hash."`
}

func (c *HashPasswordCmd) Run() error {
	return c.run(os.Stdin, os.Stdout)
}

func (c *HashPasswordCmd) run(in io.Reader, out io.Writer) error {
	password := c.Password
	if password == "" {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return errors.New("password is empty")
	}

	hash, err := application.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}
