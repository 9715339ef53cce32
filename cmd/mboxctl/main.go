//go:build unix

// Command mboxctl inspects and edits mbox mailboxes using the same locking
// and UID conventions as the mboxstore server backend.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/cheynewallace/tabby"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/infodancer/mboxstore/convert"
	mserrors "github.com/infodancer/mboxstore/errors"
	"github.com/infodancer/mboxstore/mbox"
)

const (
	cacheDirFlagName = "cache-dir"
	readOnlyFlagName = "read-only"
	noMmapFlagName   = "no-mmap"
	levelFlagName    = "level"
)

func main() {
	app := buildApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "mboxctl:", err)
		os.Exit(mserrors.Code(err))
	}
}

func buildApp() *cli.App {
	app := cli.NewApp()
	app.Name = "mboxctl"
	app.Usage = "inspect and edit mbox mailboxes"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  cacheDirFlagName,
			Usage: "folder cache directory holding fetched messages and the max-uid sidecar (default .cache/<name> next to the mailbox)",
		},
		cli.BoolFlag{
			Name:  readOnlyFlagName,
			Usage: "open mailboxes read-only",
		},
		cli.BoolFlag{
			Name:  noMmapFlagName,
			Usage: "read mailboxes with buffered I/O instead of mmap",
		},
		cli.StringFlag{
			Name:  levelFlagName,
			Value: "warn",
			Usage: "lowest visible log level: 'debug|info|warn|error'",
		},
	}

	app.Commands = []cli.Command{
		List(),
		Info(),
		Fetch(),
		Add(),
		Remove(),
		Expunge(),
		Stat(),
		ImportMaildir(),
		ExportMaildir(),
	}
	return app
}

// openFolder opens the mailbox named by the first argument using the
// global flags.
func openFolder(c *cli.Context) (*mbox.Folder, error) {
	path := c.Args().First()
	if path == "" {
		return nil, errors.New("mailbox path required")
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.GlobalString(levelFlagName))); err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", c.GlobalString(levelFlagName))
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	f, err := mbox.OpenFolder(path, c.GlobalString(cacheDirFlagName), mbox.Options{
		ReadOnly: c.GlobalBool(readOnlyFlagName),
		NoMmap:   c.GlobalBool(noMmapFlagName),
		Logger:   logger,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "opening mailbox %s", path)
	}
	return f, nil
}

// withFolder runs fn on an open folder and closes it, persisting the
// sidecar, whatever fn returns.
func withFolder(c *cli.Context, fn func(f *mbox.Folder) error) error {
	f, err := openFolder(c)
	if err != nil {
		return err
	}
	err = fn(f)
	if cerr := f.Close(); cerr != nil && err == nil {
		err = errors.Wrap(cerr, "closing mailbox")
	}
	return err
}

// parseUIDs reads UIDs from the arguments after the mailbox path.
func parseUIDs(c *cli.Context) ([]uint32, error) {
	args := c.Args().Tail()
	if len(args) == 0 {
		return nil, errors.New("at least one uid required")
	}
	uids := make([]uint32, 0, len(args))
	for _, a := range args {
		uid, ok := mbox.ParseUID(a)
		if !ok {
			return nil, errors.Wrapf(mserrors.ErrInvalidUID, "%q", a)
		}
		uids = append(uids, uid)
	}
	return uids, nil
}

func List() cli.Command {
	return cli.Command{
		Name:      "list",
		Usage:     "list the messages of a mailbox",
		ArgsUsage: "MAILBOX",
		Action: func(c *cli.Context) error {
			return withFolder(c, func(f *mbox.Folder) error {
				uids, valid, err := f.NumList()
				if err != nil {
					return errors.Wrap(err, "listing messages")
				}
				t := tabby.New()
				t.AddHeader("UID", "Size", "Date", "From", "Subject")
				for _, uid := range uids {
					info, err := f.MsgInfo(uid)
					if err != nil {
						return errors.Wrapf(err, "reading uid %d", uid)
					}
					t.AddLine(uid, info.Size, formatDate(info), formatFrom(info), info.Subject)
				}
				t.Print()
				if !valid {
					fmt.Println("note: UIDs were renumbered since the last listing")
				}
				return nil
			})
		},
	}
}

func Info() cli.Command {
	return cli.Command{
		Name:      "info",
		Usage:     "show header details of messages",
		ArgsUsage: "MAILBOX UID...",
		Action: func(c *cli.Context) error {
			uids, err := parseUIDs(c)
			if err != nil {
				return err
			}
			return withFolder(c, func(f *mbox.Folder) error {
				for _, uid := range uids {
					info, err := f.MsgInfo(uid)
					if err != nil {
						return errors.Wrapf(err, "reading uid %d", uid)
					}
					fmt.Printf("UID:        %d\n", info.UID)
					fmt.Printf("Size:       %d\n", info.Size)
					fmt.Printf("Written:    %t\n", info.Written)
					fmt.Printf("Date:       %s\n", formatDate(info))
					fmt.Printf("From:       %s\n", formatFrom(info))
					fmt.Printf("Subject:    %s\n", info.Subject)
					fmt.Printf("Message-ID: %s\n", info.MessageID)
					fmt.Printf("Flags:      %s\n\n", strings.Join(info.Flags, " "))
				}
				return nil
			})
		},
	}
}

func Fetch() cli.Command {
	const pathFlagName = "path"
	return cli.Command{
		Name:      "fetch",
		Usage:     "write messages to standard output",
		ArgsUsage: "MAILBOX UID...",
		Flags: []cli.Flag{
			cli.BoolFlag{
				Name:  pathFlagName,
				Usage: "print the name of a cache file holding each message instead of its content",
			},
		},
		Action: func(c *cli.Context) error {
			uids, err := parseUIDs(c)
			if err != nil {
				return err
			}
			return withFolder(c, func(f *mbox.Folder) error {
				for _, uid := range uids {
					if c.Bool(pathFlagName) {
						p, err := f.FetchMsg(uid)
						if err != nil {
							return errors.Wrapf(err, "fetching uid %d", uid)
						}
						fmt.Println(p)
						continue
					}
					data, err := f.Fetch(uid)
					if err != nil {
						return errors.Wrapf(err, "fetching uid %d", uid)
					}
					if _, err := os.Stdout.Write(data); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func Add() cli.Command {
	return cli.Command{
		Name:      "add",
		Usage:     "append message files to a mailbox",
		ArgsUsage: "MAILBOX FILE...",
		Action: func(c *cli.Context) error {
			files := c.Args().Tail()
			if len(files) == 0 {
				return errors.New("at least one message file required")
			}
			return withFolder(c, func(f *mbox.Folder) error {
				last, err := f.AddMsgs(files)
				if err != nil {
					return errors.Wrap(err, "appending messages")
				}
				fmt.Printf("added %d messages, last uid %d\n", len(files), last)
				return nil
			})
		},
	}
}

func Remove() cli.Command {
	return cli.Command{
		Name:      "remove",
		Usage:     "delete messages and compact the mailbox",
		ArgsUsage: "MAILBOX UID...",
		Action: func(c *cli.Context) error {
			uids, err := parseUIDs(c)
			if err != nil {
				return err
			}
			return withFolder(c, func(f *mbox.Folder) error {
				if err := f.RemoveMsgs(uids); err != nil {
					return errors.Wrap(err, "removing messages")
				}
				return errors.Wrap(f.Expunge(), "expunging")
			})
		},
	}
}

func Expunge() cli.Command {
	return cli.Command{
		Name:      "expunge",
		Usage:     "compact a mailbox, writing UID headers for every message",
		ArgsUsage: "MAILBOX",
		Action: func(c *cli.Context) error {
			return withFolder(c, func(f *mbox.Folder) error {
				return errors.Wrap(f.Expunge(), "expunging")
			})
		},
	}
}

func Stat() cli.Command {
	return cli.Command{
		Name:      "stat",
		Usage:     "show mailbox counters",
		ArgsUsage: "MAILBOX",
		Action: func(c *cli.Context) error {
			return withFolder(c, func(f *mbox.Folder) error {
				uids, _, err := f.NumList()
				if err != nil {
					return errors.Wrap(err, "listing messages")
				}
				var total int64
				for _, uid := range uids {
					m, err := f.Mailbox().Lookup(uid)
					if err != nil {
						return errors.Wrapf(err, "reading uid %d", uid)
					}
					total += m.RawSize()
				}
				mb := f.Mailbox()
				t := tabby.New()
				t.AddHeader("Messages", "Bytes", "Deleted", "Max UID", "Written UID", "Read-only")
				t.AddLine(len(uids), total, mb.DeletedCount(), mb.MaxUID(), mb.WrittenUID(), mb.ReadOnly())
				t.Print()
				return nil
			})
		},
	}
}

func ImportMaildir() cli.Command {
	return cli.Command{
		Name:      "import-maildir",
		Usage:     "append the messages of a Maildir to a mailbox",
		ArgsUsage: "MAILBOX MAILDIR",
		Action: func(c *cli.Context) error {
			dir := c.Args().Get(1)
			if dir == "" {
				return errors.New("maildir path required")
			}
			return withFolder(c, func(f *mbox.Folder) error {
				n, err := convert.ImportMaildir(dir, f)
				if err != nil {
					return errors.Wrapf(err, "importing %s", dir)
				}
				fmt.Printf("imported %d messages\n", n)
				return nil
			})
		},
	}
}

func ExportMaildir() cli.Command {
	return cli.Command{
		Name:      "export-maildir",
		Usage:     "copy the messages of a mailbox into a Maildir",
		ArgsUsage: "MAILBOX MAILDIR",
		Action: func(c *cli.Context) error {
			dir := c.Args().Get(1)
			if dir == "" {
				return errors.New("maildir path required")
			}
			return withFolder(c, func(f *mbox.Folder) error {
				n, err := convert.ExportMaildir(f, dir)
				if err != nil {
					return errors.Wrapf(err, "exporting to %s", dir)
				}
				fmt.Printf("exported %d messages\n", n)
				return nil
			})
		},
	}
}

func formatDate(info *mbox.MsgInfo) string {
	if info.Date.IsZero() {
		return "-"
	}
	return info.Date.Format("2006-01-02 15:04")
}

func formatFrom(info *mbox.MsgInfo) string {
	if len(info.From) == 0 {
		return "-"
	}
	a := info.From[0]
	if a.Name != "" {
		return a.Name
	}
	return a.Address
}
