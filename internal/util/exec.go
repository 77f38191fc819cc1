/*
Copyright 2025 The RBD-Backup Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ceph/rbd-backup/internal/util/log"
)

// ExecCommand executes passed in program with args and returns separate stdout
// and stderr streams. In case ctx is not set to context.TODO(), the command
// will be logged after it was executed.
func ExecCommand(ctx context.Context, program string, args ...string) (string, string, error) {
	var (
		cmd       = exec.Command(program, args...) // #nosec:G204, commands executing not vulnerable.
		stdoutBuf bytes.Buffer
		stderrBuf bytes.Buffer
	)

	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	stdout := stdoutBuf.String()
	stderr := stderrBuf.String()

	if err != nil {
		if ctx != context.TODO() {
			log.ErrorLog(ctx, "an error (%v) occurred while running %s %v", err, program, args)
		}

		return stdout, stderr, err
	}

	if ctx != context.TODO() {
		log.UsefulLog(ctx, "command succeeded: %s %v", program, args)
	}

	return stdout, stderr, nil
}

// ExecCommandContext behaves like ExecCommand but kills the spawned process
// when ctx is cancelled. Used by tasks so a forced shutdown can abort
// in-flight commands.
func ExecCommandContext(ctx context.Context, program string, args ...string) (string, string, error) {
	var (
		cmd       = exec.CommandContext(ctx, program, args...) // #nosec:G204, commands executing not vulnerable.
		stdoutBuf bytes.Buffer
		stderrBuf bytes.Buffer
	)

	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	stdout := stdoutBuf.String()
	stderr := stderrBuf.String()

	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			err = fmt.Errorf("aborted: %w", ctx.Err())
		}
		log.ErrorLog(ctx, "an error (%v) occurred while running %s %v", err, program, args)

		return stdout, stderr, err
	}

	log.UsefulLog(ctx, "command succeeded: %s %v", program, args)

	return stdout, stderr, nil
}

// ExitCode maps an error returned by ExecCommand to the process exit code.
// A nil error is exit code 0. An error that carries no exit code (the
// process never ran) is reported as -1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}

	return -1
}

// CommandString renders a program and its argument tokens the way they would
// be typed on a shell, for logs and task result records only.
func CommandString(program string, args ...string) string {
	return strings.Join(append([]string{program}, args...), " ")
}
