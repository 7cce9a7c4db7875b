package testutils

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"regexp"
	"strings"
)

var multiSpaceRegex = regexp.MustCompile(" +")

// RunTaskd executes a taskd command with the given arguments string (split by spaces).
// Use RunTaskdArgs when arguments contain spaces that should be preserved.
func RunTaskd(ctx context.Context, env []string, binary, cmdArgs string, nolog bool) (stdout, stderr []byte, err error) {
	// Sanitize command.
	cmdArgs = strings.TrimSpace(cmdArgs)
	cmdArgs = multiSpaceRegex.ReplaceAllString(cmdArgs, " ")

	// Split into args.
	var args []string
	if cmdArgs != "" {
		args = strings.Split(cmdArgs, " ")
	}

	return RunTaskdArgs(ctx, env, binary, args, nolog)
}

// RunTaskdArgs executes a taskd command with pre-split arguments.
func RunTaskdArgs(ctx context.Context, env []string, binary string, args []string, nolog bool) (stdout, stderr []byte, err error) {
	var outData, errData bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = &outData
	cmd.Stderr = &errData
	cmd.Env = commandEnv(env, nolog)

	err = cmd.Run()

	return outData.Bytes(), errData.Bytes(), err
}

// StartTaskd starts a long running taskd command, it's stopped when ctx is done.
func StartTaskd(ctx context.Context, env []string, binary string, args []string, nolog bool) (*exec.Cmd, *bytes.Buffer, error) {
	var errData bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stderr = &errData
	cmd.Env = commandEnv(env, nolog)
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }

	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}

	return cmd, &errData, nil
}

// commandEnv returns os.Environ() with the custom env on top.
// In Go's exec.Cmd, when duplicate keys exist, the last one wins.
func commandEnv(env []string, nolog bool) []string {
	newEnv := append([]string{}, os.Environ()...)
	newEnv = append(newEnv, env...)
	if nolog {
		newEnv = append(newEnv, "TASKD_NO_LOG=true")
	}
	return newEnv
}
