package executor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// scriptExecutor drives a stage by spawning the external automation script as
// a child process. The script receives the job parameters via environment
// variables and speaks a line protocol on stdout:
//
//	PROGRESS <step>/<total> <message>
//	ARTIFACT <value>
//
// Cancellation is cooperative: the process gets SIGINT first and a kill only
// after the wait delay, so the script can close its browser session cleanly.
type scriptExecutor struct {
	command   string
	args      []string
	timeout   time.Duration
	killDelay time.Duration
}

func NewScriptExecutor(command string, args []string, timeout, killDelay time.Duration) StageExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	if killDelay <= 0 {
		killDelay = 15 * time.Second
	}
	return &scriptExecutor{command: command, args: args, timeout: timeout, killDelay: killDelay}
}

func (e *scriptExecutor) Run(ctx context.Context, in Input, report ProgressFunc) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.command, e.args...)
	cmd.Env = append(os.Environ(),
		"AUTOMATION_JOB_ID="+in.JobID,
		"AUTOMATION_APPLICATION_ID="+strconv.FormatInt(in.ApplicationID, 10),
		"AUTOMATION_STAGE="+string(in.Stage),
		"AUTOMATION_COUNTRY="+in.Country,
		"AUTOMATION_VISIBLE="+strconv.FormatBool(in.VisibleMode),
	)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = e.killDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start %s: %w", e.command, err)
	}

	var artifact string
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		step, total, msg, ok := parseProgressLine(scanner.Text())
		if ok {
			report(step, total, msg)
			continue
		}
		if v, ok := strings.CutPrefix(scanner.Text(), "ARTIFACT "); ok {
			artifact = strings.TrimSpace(v)
		}
	}

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return "", fmt.Errorf("%w: %s interrupted", ErrCancelled, in.Stage)
	}
	if waitErr != nil {
		return "", fmt.Errorf("stage script failed: %w: %s", waitErr, tail(stderr.String(), 500))
	}
	return artifact, nil
}

func parseProgressLine(line string) (step, total int, message string, ok bool) {
	rest, found := strings.CutPrefix(line, "PROGRESS ")
	if !found {
		return 0, 0, "", false
	}
	counter, msg, _ := strings.Cut(rest, " ")
	stepText, totalText, found := strings.Cut(counter, "/")
	if !found {
		return 0, 0, "", false
	}
	step, err1 := strconv.Atoi(stepText)
	total, err2 := strconv.Atoi(totalText)
	if err1 != nil || err2 != nil {
		return 0, 0, "", false
	}
	return step, total, strings.TrimSpace(msg), true
}

func tail(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return "…" + s[len(s)-max:]
}
