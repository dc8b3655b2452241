package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"pagelink/internal/session"
	"pagelink/internal/ui"
)

// runHeadless is the polling loop without a terminal UI. Inputs arrive one
// per line on in ("down", "confirm", ...); every visible change is printed to
// out. It returns when the session exits or ctx is done.
func runHeadless(ctx context.Context, engine ui.Engine, interval time.Duration, in io.Reader, out io.Writer) error {
	inputs := make(chan string)
	go func() {
		defer close(inputs)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case inputs <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			engine.Exit()
			return nil

		case line, ok := <-inputs:
			if !ok {
				inputs = nil
				continue
			}
			if line == "" {
				continue
			}
			input, known := session.ParseInput(line)
			if !known {
				fmt.Fprintf(out, "unknown input %q\n", line)
				continue
			}
			engine.HandleInput(input)

		case <-ticker.C:
			engine.Tick()
		}

		if engine.TakeUpdate() {
			printView(out, engine.View())
		}
		if engine.Exited() {
			return nil
		}
	}
}

func printView(w io.Writer, v session.View) {
	fmt.Fprintf(w, "[%s]", v.State)
	switch v.State {
	case session.CheckPeer, session.WaitForPeer:
		if v.Connected {
			fmt.Fprint(w, " connected")
		} else {
			fmt.Fprint(w, " waiting for companion app")
		}
		fmt.Fprintln(w)

	case session.BrowsingList:
		fmt.Fprintf(w, " %d entries\n", len(v.Catalog))
		for i, e := range v.Catalog {
			mark := " "
			if i == v.Cursor {
				mark = ">"
			}
			fmt.Fprintf(w, "%s %3d  %s\n", mark, i+1, e.Title)
		}

	case session.LoadPage, session.ReceivingPage:
		fmt.Fprintf(w, " %s page %d\n", v.PageRef.EntryID, v.PageRef.Number)

	case session.DisplayPage:
		complete := "complete"
		if !v.PageComplete {
			complete = "partial"
		}
		fmt.Fprintf(w, " %s page %d: %d bytes, %s\n", v.PageRef.EntryID, v.PageRef.Number, len(v.Page), complete)

	case session.Failed:
		fmt.Fprintf(w, " %s\n", v.Error)

	default:
		fmt.Fprintln(w)
	}
}
