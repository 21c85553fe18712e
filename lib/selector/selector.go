// Package selector implements the rule-based disambiguation engine that
// turns a mix of CLI flags, environment variables, and terminal context
// into exactly one group or one (instance, group) pair.
package selector

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/cvdhost/cvdd/lib/instancedb"
	"github.com/cvdhost/cvdd/lib/sentinel"
)

// Options are the selector options parsed upstream and passed in structurally.
type Options struct {
	// GroupName, if set, must match the group-name grammar.
	GroupName string
	// InstanceNames is an optional ordered list of per-instance names; the
	// non-empty ones must be distinct within one request.
	InstanceNames []string
	// Home is the HOME-override value: set only when the invoking
	// environment's HOME differs from the system-wide home of the invoking user.
	Home string
	// InstanceID is derived from the environment variable designating the
	// current instance (CUTTLEFISH_INSTANCE); 0 means unset.
	InstanceID uint32
}

// Filter converts the options into the database filter they populate.
func (o Options) Filter() instancedb.Filter {
	return instancedb.Filter{
		Home:          o.Home,
		GroupName:     o.GroupName,
		InstanceID:    o.InstanceID,
		InstanceNames: o.InstanceNames,
	}
}

// Selector reduces an underspecified request to exactly one group or
// (instance, group) pair, consulting the database, the environment, and,
// when available, an interactive terminal prompt.
type Selector struct {
	db         *instancedb.Database
	systemHome string
	in         *os.File
	out        io.Writer

	cancelR *os.File
	cancelW *os.File
}

// New creates a Selector. systemHome is the non-overridden, system-wide home
// directory of the invoking user (used for default-group resolution,
// ignoring any HOME override — see original_source/selector/device_selector_utils.cpp).
// in is the stream checked for TTY-ness and read for interactive prompts
// (typically os.Stdin); out receives the rendered menu (typically os.Stdout).
func New(db *instancedb.Database, systemHome string, in *os.File, out io.Writer) *Selector {
	r, w, _ := os.Pipe()
	return &Selector{db: db, systemHome: systemHome, in: in, out: out, cancelR: r, cancelW: w}
}

// Interrupt cancels any in-flight interactive prompt read, waking the
// selector's blocked read via the self-pipe.
func (s *Selector) Interrupt() error {
	_, err := s.cancelW.Write([]byte{0})
	return err
}

// IsTerminal reports whether the selector's input stream is a terminal.
func (s *Selector) IsTerminal() bool {
	_, err := unix.IoctlGetTermios(int(s.in.Fd()), unix.TCGETS)
	return err == nil
}

// SelectGroup implements spec.md §4.3's group-selection algorithm.
func (s *Selector) SelectGroup(opts Options) (instancedb.Group, error) {
	empty, err := s.db.IsEmpty()
	if err != nil {
		return instancedb.Group{}, err
	}
	if empty {
		return instancedb.Group{}, fmt.Errorf("no groups: %w", sentinel.ErrNotFound)
	}

	filter := opts.Filter()
	var candidates []instancedb.Group

	if filter.IsEmpty() {
		all, err := s.db.InstanceGroups()
		if err != nil {
			return instancedb.Group{}, err
		}
		if len(all) == 1 {
			return all[0], nil
		}
		homeMatches, err := s.db.FindGroups(instancedb.Filter{Home: s.systemHome})
		if err != nil {
			return instancedb.Group{}, err
		}
		if len(homeMatches) == 1 {
			return homeMatches[0], nil
		}
		candidates = all
	} else {
		matches, err := s.db.FindGroups(filter)
		if err != nil {
			return instancedb.Group{}, err
		}
		if len(matches) == 1 {
			return matches[0], nil
		}
		if len(matches) == 0 {
			return instancedb.Group{}, fmt.Errorf("no group matches the selection: %w", sentinel.ErrNotFound)
		}
		candidates = matches
	}

	if s.IsTerminal() {
		return s.promptForGroup(candidates)
	}
	return instancedb.Group{}, fmt.Errorf("Multiple groups found, narrow selection or run in a terminal: %w", sentinel.ErrAmbiguous)
}

// SelectInstance implements spec.md §4.3's instance-selection algorithm.
func (s *Selector) SelectInstance(opts Options) (instancedb.Instance, instancedb.Group, error) {
	filter := opts.Filter()
	if filter.IsEmpty() {
		g, err := s.SelectGroup(opts)
		if err != nil {
			return instancedb.Instance{}, instancedb.Group{}, err
		}
		if len(g.Instances) != 1 {
			return instancedb.Instance{}, instancedb.Group{}, fmt.Errorf("default group %q does not contain exactly one instance: %w", g.Name, sentinel.ErrAmbiguous)
		}
		return g.Instances[0], g, nil
	}
	return s.db.FindInstanceWithGroup(filter)
}

// promptForGroup renders a numbered menu of candidates and their instances
// and reads a line from the terminal, re-prompting on invalid input.
func (s *Selector) promptForGroup(candidates []instancedb.Group) (instancedb.Group, error) {
	for {
		fmt.Fprintln(s.out, "Multiple instance groups found, please choose one:")
		for i, g := range candidates {
			fmt.Fprintf(s.out, "  [%d] : %s (created: %s)\n", i, g.Name, g.StartTime.Format("2006-01-02 15:04:05"))
			for j, inst := range g.Instances {
				letter := rune('a' + j)
				fmt.Fprintf(s.out, "    <%c> %s-%s (id : %d)\n", letter, g.Name, inst.Name, inst.ID)
			}
		}

		line, interrupted := s.readLine()
		if interrupted {
			return instancedb.Group{}, fmt.Errorf("selection interrupted: %w", sentinel.ErrNotFound)
		}
		line = strings.TrimSpace(line)

		if idx, err := strconv.Atoi(line); err == nil {
			if idx < 0 || idx >= len(candidates) {
				fmt.Fprintf(s.out, "index %d out of range [0, %d)\n", idx, len(candidates))
				continue
			}
			return candidates[idx], nil
		}

		matches, err := s.db.FindGroups(instancedb.Filter{GroupName: line})
		if err != nil {
			return instancedb.Group{}, err
		}
		if len(matches) == 1 {
			return matches[0], nil
		}
		fmt.Fprintf(s.out, "no group named %q\n", line)
	}
}

// readLine reads one line from the input stream, racing it against the
// self-pipe cancellation primitive. Go-idiomatic replacement for the
// select()-on-an-event-fd pattern: a goroutine blocks on the scanner, a
// second blocks on the cancel pipe, and the first to produce a result wins.
func (s *Selector) readLine() (line string, interrupted bool) {
	lineCh := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(s.in)
		if scanner.Scan() {
			lineCh <- scanner.Text()
			return
		}
		lineCh <- ""
	}()

	cancelCh := make(chan struct{}, 1)
	go func() {
		buf := make([]byte, 1)
		if _, err := s.cancelR.Read(buf); err == nil {
			cancelCh <- struct{}{}
		}
	}()

	select {
	case l := <-lineCh:
		return l, false
	case <-cancelCh:
		return "", true
	}
}
