package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/vitaminmoo/vsp-ota/internal/settings"
)

// SettingsShow prints every setting with its value, marking changed ones.
func SettingsShow(out io.Writer, s *settings.Store) error {
	if s.Path() != "" {
		fmt.Fprintf(out, "Settings file: %s\n\n", s.Path())
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, key := range settings.Keys() {
		mark := " "
		if s.IsSet(key) {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %s\t%s\t%s\n", mark, key, s.GetString(key), settings.Help(key))
	}
	return w.Flush()
}

// SettingsGet prints one value.
func SettingsGet(out io.Writer, s *settings.Store, key string) error {
	if settings.Help(key) == "" {
		return fmt.Errorf("unknown setting %q", key)
	}
	fmt.Fprintln(out, s.GetString(key))
	return nil
}

// SettingsSet validates, stores and saves one value.
func SettingsSet(out io.Writer, s *settings.Store, key, value string) error {
	if err := s.Set(key, value); err != nil {
		return err
	}
	if err := s.Save(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s = %s\n", key, s.GetString(key))
	return nil
}

// SettingsReset restores one key, or all keys when key is empty, to the
// default and saves.
func SettingsReset(out io.Writer, s *settings.Store, key string) error {
	if err := s.Reset(key); err != nil {
		return err
	}
	if err := s.Save(); err != nil {
		return err
	}
	if key == "" {
		fmt.Fprintln(out, "All settings reset to defaults")
	} else {
		fmt.Fprintf(out, "%s = %s (default)\n", key, s.GetString(key))
	}
	return nil
}
