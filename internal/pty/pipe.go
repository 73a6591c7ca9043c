package pty

import (
	"io"
	"os/exec"
)

// pipeProcess is the pipe-backed fallback used where no native PTY exists.
// Stdout and stderr are merged into one reader so the reader task sees a
// single ordered stream.
type pipeProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader io.Reader
}
