package confirmation

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"omnicrm-backup/internal/backup"
	"omnicrm-backup/internal/display"
)

// maxPrompts bounds how often an unrecognised answer is asked again
const maxPrompts = 3

// ErrNotInteractive is returned when a prompt is needed but input is not a terminal
var ErrNotInteractive = errors.New("confirmation required but input is not interactive; pass --yes to proceed")

// ErrCancelled is returned when the prompt is interrupted
var ErrCancelled = errors.New("operation cancelled by user")

// RestorePlan describes what a restore is about to do
type RestorePlan struct {
	Artifact       string
	Backend        string
	Datastore      string // redacted connection URL
	VerifyChecksum bool
	Record         *backup.BackupRecord // nil when the artifact is not cataloged
}

// Service asks the operator before destructive operations
type Service interface {
	ConfirmRestore(ctx context.Context, plan RestorePlan, autoApprove bool) (bool, error)
	DisplayRestoreSummary(plan RestorePlan)
}

type confirmationService struct {
	in          *bufio.Reader
	out         io.Writer
	colors      *display.Colors
	interactive bool
}

// NewService creates a confirmation service reading answers from in.
// interactive reports whether in is a terminal.
func NewService(in io.Reader, out io.Writer, colors *display.Colors, interactive bool) Service {
	if colors == nil {
		colors = display.NoColors()
	}
	return &confirmationService{
		in:          bufio.NewReader(in),
		out:         out,
		colors:      colors,
		interactive: interactive,
	}
}

// ConfirmRestore shows the plan and waits for an answer. A canceled ctx
// aborts the prompt with ErrCancelled.
func (cs *confirmationService) ConfirmRestore(ctx context.Context, plan RestorePlan, autoApprove bool) (bool, error) {
	cs.DisplayRestoreSummary(plan)

	if autoApprove {
		fmt.Fprintln(cs.out, cs.colors.Sprint(display.ColorSuccess, "✓ Auto-approving restore..."))
		return true, nil
	}
	if !cs.interactive {
		return false, ErrNotInteractive
	}

	type answer struct {
		ok  bool
		err error
	}
	answers := make(chan answer, 1)

	go func() {
		ok, err := cs.ask()
		answers <- answer{ok: ok, err: err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cs.out, "\n"+cs.colors.Sprint(display.ColorWarning, "! Operation cancelled by user"))
		return false, ErrCancelled
	case a := <-answers:
		return a.ok, a.err
	}
}

// DisplayRestoreSummary prints what is about to be replaced
func (cs *confirmationService) DisplayRestoreSummary(plan RestorePlan) {
	fmt.Fprintln(cs.out, cs.colors.Sprint(display.ColorError, "RESTORE REPLACES THE CURRENT DATASTORE CONTENTS"))
	fmt.Fprintln(cs.out, strings.Repeat("=", 50))
	fmt.Fprintf(cs.out, "Artifact:        %s\n", plan.Artifact)
	fmt.Fprintf(cs.out, "Target:          %s (%s)\n", plan.Datastore, plan.Backend)

	if plan.Record != nil {
		fmt.Fprintf(cs.out, "Created:         %s\n", plan.Record.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Fprintf(cs.out, "Size:            %s\n", display.HumanBytes(plan.Record.SizeBytes))
		fmt.Fprintf(cs.out, "Encrypted:       %t\n", plan.Record.Encrypted)
	} else {
		fmt.Fprintln(cs.out, cs.colors.Sprint(display.ColorWarning, "Artifact is not in the catalog"))
	}

	verify := "yes"
	if !plan.VerifyChecksum {
		verify = cs.colors.Sprint(display.ColorWarning, "skipped")
	}
	fmt.Fprintf(cs.out, "Checksum check:  %s\n", verify)
	fmt.Fprintln(cs.out)
}

// ask prompts until a recognised answer is given or the attempts run out
func (cs *confirmationService) ask() (bool, error) {
	for i := 0; i < maxPrompts; i++ {
		fmt.Fprint(cs.out, cs.colors.Sprint(display.ColorPrimary, "Do you want to restore this backup? [y/N]: "))

		input, err := cs.in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && input != "") {
			if errors.Is(err, io.EOF) {
				return false, nil
			}
			return false, fmt.Errorf("failed to read input: %w", err)
		}

		if ok, valid := parseAnswer(input); valid {
			return ok, nil
		}
		fmt.Fprintf(cs.out, "Invalid input '%s'. Please enter 'y' for yes or 'n' for no.\n", strings.TrimSpace(input))
	}
	return false, nil
}

// parseAnswer interprets a reply; the empty reply means no
func parseAnswer(input string) (ok bool, valid bool) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "y", "yes":
		return true, true
	case "n", "no", "":
		return false, true
	default:
		return false, false
	}
}
