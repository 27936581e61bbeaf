package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kwinsch/historify"
)

func printReport(r historify.Report) {
	if r.OK {
		fmt.Printf("verify (%s): ok\n", r.Scope)
		return
	}
	fmt.Printf("verify (%s): FAILED, %d issue(s)\n", r.Scope, len(r.Failures))
	for _, f := range r.Failures {
		switch {
		case f.LogFile != "":
			fmt.Printf("  [%s] %s: %s\n", f.Category, f.LogFile, f.Detail)
		case f.Path != "":
			fmt.Printf("  [%s] %s: %s\n", f.Category, f.Path, f.Detail)
		default:
			fmt.Printf("  [%s] %s\n", f.Category, f.Detail)
		}
	}
}

func printStatus(st historify.Status) {
	fmt.Println("categories:")
	for cat, n := range st.Categories {
		fmt.Printf("  %-20s %d file(s)\n", cat, n)
	}
	if st.LastLink != nil {
		fmt.Printf("last closing link: %s -> prev %s\n", st.LastLink.LogName, st.LastLink.Prev)
	} else {
		fmt.Println("last closing link: none (chain not yet bootstrapped)")
	}
}

func printEvents(events []historify.Event) {
	for _, e := range events {
		ts := e.Timestamp.Format(time.RFC3339)
		switch e.Type {
		case historify.EventComment, historify.EventConfig:
			fmt.Printf("%s  %-8s %s\n", ts, e.Type, e.Extra)
		default:
			fmt.Printf("%s  %-8s %-10s %-40s %s\n", ts, e.Type, e.Category, e.Path, humanize.Bytes(uint64(e.Size)))
		}
	}
}
