package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/petasbytes/codeplayground/internal/interp"
	"github.com/petasbytes/codeplayground/internal/playground"
	"github.com/petasbytes/codeplayground/internal/session"
)

const helpText = `Commands:
  :edit            replace the source; finish with a line containing only "."
  :run             run the source
  :reset           restore the original source
  :show            print the source with line numbers and the last error
  :explain         ask the assistant to explain the source
  :fix             ask the assistant to fix the last error
  :gen <task>      replace the source with generated code
  :load <path>     load the source from a workspace file
  :save <path>     save the source to a workspace file
  :ls [dir]        list workspace files
  :done <module>   mark a module complete
  :progress        list completed modules
  :quit            exit`

// printer streams run output to the terminal.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) OnLine(_ string, line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, line)
}

func (p *printer) OnFinished(string, session.Outcome) {}

type readiness interface {
	State() interp.State
}

type repl struct {
	host    *playground.Host
	sess    *session.Session
	runtime readiness
	out     io.Writer
}

func (r *repl) loop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	// stdin reader goroutine -> lines into channel
	inputCh := make(chan string)
	go func() {
		defer close(inputCh)
		for scanner.Scan() {
			select {
			case inputCh <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(r.out, "Code playground (:help for commands, Ctrl-C to quit)")
	for {
		fmt.Fprint(r.out, "\u001b[94m>>>\u001b[0m ")
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out, "\nExiting...")
			return nil
		case line, ok = <-inputCh:
			if !ok {
				return scanner.Err()
			}
		}
		cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
		arg = strings.TrimSpace(arg)
		switch cmd {
		case "":
		case ":quit", ":q":
			return nil
		case ":help":
			fmt.Fprintln(r.out, helpText)
		case ":edit":
			text, ok := r.readBlock(ctx, inputCh)
			if !ok {
				return scanner.Err()
			}
			r.sess.Edit(text)
		case ":run":
			r.run(ctx)
		case ":reset":
			r.sess.Reset()
			r.show()
		case ":show":
			r.show()
		case ":explain":
			n, err := r.host.Explain(ctx, r.sess.ID())
			r.notice(n, err)
		case ":fix":
			n, err := r.host.Autofix(ctx, r.sess.ID())
			r.notice(n, err)
		case ":gen":
			n, err := r.host.Generate(ctx, r.sess.ID(), arg)
			r.notice(n, err)
		case ":load":
			r.report(r.host.Load(r.sess.ID(), arg))
		case ":save":
			r.report(r.host.Save(r.sess.ID(), arg))
		case ":ls":
			names, err := r.host.Files(arg)
			if err != nil {
				r.report(err)
				break
			}
			for _, n := range names {
				fmt.Fprintln(r.out, n)
			}
		case ":done":
			changed, err := r.host.CompleteModule(ctx, arg)
			if err == nil && !changed {
				fmt.Fprintf(r.out, "module %s was already complete\n", arg)
			}
			r.report(err)
		case ":progress":
			fmt.Fprintf(r.out, "completed: %s\n", strings.Join(r.host.Progress(), ", "))
		default:
			fmt.Fprintf(r.out, "unknown command %q; try :help\n", cmd)
		}
	}
}

// readBlock collects lines until a lone ".".
func (r *repl) readBlock(ctx context.Context, inputCh <-chan string) (string, bool) {
	var lines []string
	for {
		select {
		case <-ctx.Done():
			return "", false
		case line, ok := <-inputCh:
			if !ok {
				return "", false
			}
			if line == "." {
				return strings.Join(lines, "\n"), true
			}
			lines = append(lines, line)
		}
	}
}

func (r *repl) run(ctx context.Context) {
	if st := r.runtime.State(); st != interp.Ready {
		fmt.Fprintf(r.out, "runtime %s, waiting...\n", st)
	}
	out, err := r.host.Run(ctx, r.sess.ID())
	switch {
	case errors.Is(err, interp.ErrNotReady):
		fmt.Fprintln(r.out, "runtime is not available; try :run again")
		return
	case err != nil:
		r.report(err)
		return
	}
	if out.Error != nil {
		r.printError(out)
		return
	}
	if out.Passed {
		fmt.Fprintln(r.out, "\u001b[92m✓ output matches the expected result\u001b[0m")
	}
}

func (r *repl) printError(out session.Outcome) {
	e := out.Error
	loc := ""
	if e.HasLine() {
		loc = fmt.Sprintf(" (line %d)", e.LineNumber())
	}
	fmt.Fprintf(r.out, "\u001b[91m%s%s\u001b[0m: %s\n", e.Kind, loc, e.Message)
	fmt.Fprintln(r.out, "use :show for the full traceback or :fix to ask for a fix")
}

func (r *repl) show() {
	lines := strings.Split(r.sess.Text(), "\n")
	errLine := 0
	e := r.sess.Err()
	if e != nil {
		errLine = e.LineNumber()
	}
	for i, l := range lines {
		marker := " "
		if i+1 == errLine {
			marker = ">"
		}
		fmt.Fprintf(r.out, "%s%3d | %s\n", marker, i+1, l)
	}
	if e != nil {
		fmt.Fprintln(r.out, strings.TrimRight(e.Raw, "\n"))
	}
}

func (r *repl) notice(n playground.Notice, err error) {
	if err != nil && n.Body == "" {
		r.report(err)
		return
	}
	if n.Title != "" {
		fmt.Fprintf(r.out, "\u001b[93m%s\u001b[0m\n", n.Title)
	}
	fmt.Fprintln(r.out, n.Body)
}

func (r *repl) report(err error) {
	if err != nil {
		fmt.Fprintf(r.out, "error: %v\n", err)
	}
}
