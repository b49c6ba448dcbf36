package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docopt/docopt-go"
	"github.com/mattn/go-shellwords"

	"github.com/bringyour/prefsync/prefs"
)

const consoleUsage = `Session console.

Usage:
    session set <category> <name> <value>
    session reset <category> <name>
    session show
    session participants
    session quit
`

var errUnknownCategory = errors.New("Unknown category.")
var errUnknownPreference = errors.New("Unknown preference.")

// reads commands from a session's stdin
// The coordinator and store are optional.
type console struct {
	settings    *prefs.SessionSettings
	coordinator *prefs.SettingsCoordinator
	store       prefs.PreferenceStore
	renderer    *renderer
	out         io.Writer
	parser      *docopt.Parser
}

func newConsole(
	settings *prefs.SessionSettings,
	coordinator *prefs.SettingsCoordinator,
	store prefs.PreferenceStore,
	renderer *renderer,
	out io.Writer,
) *console {
	return &console{
		settings:    settings,
		coordinator: coordinator,
		store:       store,
		renderer:    renderer,
		out:         out,
		parser: &docopt.Parser{
			HelpHandler: docopt.NoHelpHandler,
		},
	}
}

func (self *console) run(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			case lines <- scanner.Text():
			}
		}
	}()

	for {
		fmt.Fprint(self.out, "> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			quit, err := self.exec(line)
			if err != nil {
				fmt.Fprintf(self.out, "error: %s\n", err)
			}
			if quit {
				return
			}
		}
	}
}

func (self *console) exec(line string) (quit bool, returnErr error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	// quotes allow names with spaces
	args, err := shellwords.Parse(line)
	if err != nil {
		returnErr = err
		return
	}
	opts, err := self.parser.ParseArgs(consoleUsage, args, "")
	if err != nil {
		fmt.Fprint(self.out, consoleUsage)
		return
	}

	if set_, _ := opts.Bool("set"); set_ {
		categoryName, _ := opts.String("<category>")
		name, _ := opts.String("<name>")
		value, _ := opts.String("<value>")
		returnErr = self.set(categoryName, name, func(pref prefs.AnyPreference) error {
			return pref.SetText(value)
		})
	} else if reset_, _ := opts.Bool("reset"); reset_ {
		categoryName, _ := opts.String("<category>")
		name, _ := opts.String("<name>")
		returnErr = self.set(categoryName, name, func(pref prefs.AnyPreference) error {
			return pref.SetText(pref.DefaultText())
		})
	} else if show_, _ := opts.Bool("show"); show_ {
		self.show()
	} else if participants_, _ := opts.Bool("participants"); participants_ {
		fmt.Fprint(self.out, self.renderer.renderParticipants(self.settings.Client.Category, self.settings.Participants))
	} else if quit_, _ := opts.Bool("quit"); quit_ {
		quit = true
	}
	return
}

func (self *console) show() {
	for _, category := range self.settings.Categories() {
		fmt.Fprint(self.out, self.renderer.renderCategory(category, category.Effective()))
	}
}

func (self *console) set(categoryName string, name string, update func(pref prefs.AnyPreference) error) error {
	category, err := findCategory(self.settings, categoryName)
	if err != nil {
		return err
	}
	pref, err := findPreference(category, name)
	if err != nil {
		return err
	}
	if err := update(pref); err != nil {
		return err
	}
	fmt.Fprintf(self.out, "%s.%s = %s\n", category.Name(), pref.Name(), pref.Text())

	if self.coordinator != nil {
		switch category {
		case self.settings.Server.Category:
			err = self.coordinator.PublishServerSettings()
		case self.settings.Client.Category:
			err = self.coordinator.PublishClientSettings()
		}
		if err != nil {
			return err
		}
	}
	if self.store != nil {
		return self.store.Save(category)
	}
	return nil
}

// matches the category name or a prefix of it, ignoring case
func findCategory(settings *prefs.SessionSettings, categoryName string) (*prefs.Category, error) {
	lowerName := strings.ToLower(categoryName)
	for _, category := range settings.Categories() {
		if strings.HasPrefix(strings.ToLower(category.Name()), lowerName) && lowerName != "" {
			return category, nil
		}
	}
	return nil, fmt.Errorf("%w %s", errUnknownCategory, categoryName)
}

// matches the preference name, ignoring case
func findPreference(category *prefs.Category, name string) (prefs.AnyPreference, error) {
	if pref, ok := category.Preference(name); ok {
		return pref, nil
	}
	for _, pref := range category.Preferences() {
		if strings.EqualFold(pref.Name(), name) {
			return pref, nil
		}
	}
	return nil, fmt.Errorf("%w %s.%s", errUnknownPreference, category.Name(), name)
}
