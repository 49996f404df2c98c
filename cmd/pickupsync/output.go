package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
)

var (
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	dimColor     = color.New(color.Faint)
)

func printSuccess(format string, args ...interface{}) {
	successColor.Printf(format+"\n", args...)
}

func printError(format string, args ...interface{}) {
	errorColor.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

func printWarning(format string, args ...interface{}) {
	warningColor.Printf(format+"\n", args...)
}

func printInfo(format string, args ...interface{}) {
	infoColor.Printf(format+"\n", args...)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// syncBadge renders a record's sync state.
func syncBadge(synced bool) string {
	if synced {
		return successColor.Sprint("synced")
	}
	return warningColor.Sprint("pending")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func shortID(id string) string {
	return dimColor.Sprint(id)
}

func printResultLine(label string, synced, failed, pending int) {
	fmt.Printf("%s synced=%d failed=%d pending=%d\n", label, synced, failed, pending)
}
