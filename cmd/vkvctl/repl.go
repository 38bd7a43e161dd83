package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/kartikbazzad/vkvstore/internal/logger"
	"github.com/kartikbazzad/vkvstore/internal/mdm"
	"github.com/kartikbazzad/vkvstore/internal/vsm"
)

const historyFile = ".vkvctl_history"

// runREPL drives an interactive shell over the MDM, with liner providing
// line editing and history.
func runREPL(m *mdm.MDM[string, string], log *logger.Logger) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	histPath := filepath.Join(os.TempDir(), historyFile)
	if f, err := os.Open(histPath); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Println("vkvstore shell. Type 'help' for commands, 'quit' to exit.")

	for {
		input, err := line.Prompt("vkv> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println()
				return
			}
			log.Warn("repl: prompt error: %v", err)
			return
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if !dispatch(m, input) {
			return
		}
	}
}

// dispatch executes one REPL command; it returns false when the shell
// should exit.
func dispatch(m *mdm.MDM[string, string], input string) bool {
	fields := strings.Fields(input)
	cmd := fields[0]

	switch cmd {
	case "quit", "exit":
		return false
	case "help":
		fmt.Println(usage())
	case "version":
		if len(fields) != 2 {
			fmt.Println("usage: version <db>")
			return true
		}
		v, ok := m.GetDB(fields[1])
		if !ok {
			fmt.Println("(no such database)")
			return true
		}
		fmt.Println(v.Version())
	case "get":
		if len(fields) != 3 {
			fmt.Println("usage: get <db> <key>")
			return true
		}
		v, ok := m.GetDB(fields[1])
		if !ok {
			fmt.Println("(no such database)")
			return true
		}
		got := v.Get(fields[2])
		if !got.Found {
			fmt.Println("(not found)")
			return true
		}
		fmt.Println(got.Value)
	case "put":
		if len(fields) < 3 {
			fmt.Println("usage: put <db> <k>=<v> [<k>=<v>...]")
			return true
		}
		db := fields[1]
		pairs := make(map[string]string, len(fields)-2)
		for _, kv := range fields[2:] {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				fmt.Printf("skipping malformed pair %q\n", kv)
				continue
			}
			pairs[parts[0]] = parts[1]
		}
		err := m.CreateAndFill(db, func(w *vsm.Writer[string, string]) bool {
			for k, val := range pairs {
				if err := w.Put(k, val); err != nil {
					return false
				}
			}
			return true
		})
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return true
		}
		fmt.Println("ok")
	case "clear":
		if len(fields) != 2 {
			fmt.Println("usage: clear <db>")
			return true
		}
		v, ok := m.GetDB(fields[1])
		if !ok {
			fmt.Println("(no such database)")
			return true
		}
		v.Clear()
		fmt.Println("ok")
	default:
		fmt.Printf("unknown command %q, type 'help'\n", cmd)
	}
	return true
}
