// Command inspect dumps stored messages from a badger database as a
// table. Read-only; safe to point at a live server's data directory.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/kelseyhightower/envconfig"
	"github.com/mama165/sdk-go/database"
	"github.com/olekukonko/tablewriter"

	"github.com/0rooe/chat/domain/message"
	"github.com/0rooe/chat/repositories"
)

type config struct {
	BadgerFilepath string `envconfig:"BADGER_FILEPATH"`
	// INSPECT_COLOURS enables colorized status output for readability
	Colours bool `envconfig:"INSPECT_COLOURS" default:"true"`
}

func main() {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Config error: %v", err)
	}

	defaultPath := cfg.BadgerFilepath
	if defaultPath == "" {
		defaultPath = database.DefaultPath
	}
	dbPath := flag.String("db", defaultPath, "Path to badger DB")
	prefix := flag.String("prefix", "msg:", "Prefix to scan")
	limit := flag.Int("limit", 200, "Max rows to print")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Kind", "Sender", "Receiver", "Status", "Created", "Content"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	rows := 0
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes) && rows < *limit; it.Next() {
			item := it.Item()

			err := item.Value(func(v []byte) error {
				msg, err := repositories.UnmarshalRecord(v)
				if err != nil {
					// Index keys share no record payload; skip them.
					fmt.Printf("Skipping key %s: %v\n", string(item.Key()), err)
					return nil
				}

				content := msg.Content
				if msg.Encrypted {
					content = "<encrypted>"
				}
				if len(content) > 48 {
					content = content[:48] + "…"
				}

				table.Append([]string{
					shortID(msg.ID.String()),
					string(msg.Kind),
					fmt.Sprintf("%d", msg.SenderID),
					fmt.Sprintf("%d", msg.ReceiverID),
					renderStatus(msg.Status, cfg.Colours),
					msg.CreatedAt.Format("2006-01-02 15:04:05"),
					content,
				})
				rows++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
	fmt.Printf("\n%d message(s)\n", rows)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func renderStatus(status message.Status, colours bool) string {
	s := string(status)
	if !colours {
		return s
	}
	switch status {
	case message.StatusRead:
		return color.New(color.FgGreen).Render(s)
	case message.StatusDelivered:
		return color.New(color.FgCyan).Render(s)
	case message.StatusFailed:
		return color.New(color.FgRed).Render(s)
	default:
		return color.New(color.FgYellow).Render(s)
	}
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)

	db, err := badger.Open(opts)
	if err != nil && strings.Contains(err.Error(), "Log truncate required") {
		// Corrupted value log from a crash; reopen writable so badger
		// can truncate, then keep using that handle.
		repairOpts := badger.DefaultOptions(path).
			WithLogger(nil).WithBypassLockGuard(true)
		return badger.Open(repairOpts)
	}
	return db, err
}
