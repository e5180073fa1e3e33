package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/vitaminmoo/vsp-ota/internal/store"
)

// StoreList prints all stored images, newest first.
func StoreList(out io.Writer, s *store.Store) error {
	entries, err := s.List()
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, "No images in store.")
		fmt.Fprintln(out, "Images are saved here when they are compiled or downloaded during a transfer.")
		return nil
	}

	fmt.Fprintf(out, "Found %d image(s):\n\n", len(entries))
	for _, e := range entries {
		kind := "binary"
		if e.Compiled {
			kind = "compiled"
		}
		fmt.Fprintf(out, "  %s  %-16s  %-8s  %-8s  %9s  CRC %s  %s\n",
			store.ShortHash(e.Hash),
			e.Target,
			e.Device,
			kind,
			humanize.Bytes(uint64(e.Size)),
			e.CRC,
			humanize.Time(e.CreatedAt))
	}
	return nil
}

// StoreShow prints the metadata of one image.
func StoreShow(out io.Writer, s *store.Store, ref string) error {
	hash, err := s.Resolve(ref)
	if err != nil {
		return err
	}
	meta, err := s.GetMetadata(hash)
	if err != nil {
		return fmt.Errorf("failed to get metadata: %w", err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(data))
	return nil
}

// StoreExport writes one image to a file.
func StoreExport(out io.Writer, s *store.Store, ref, dest string) error {
	hash, err := s.Resolve(ref)
	if err != nil {
		return err
	}
	if err := s.Export(hash, dest); err != nil {
		return fmt.Errorf("failed to export: %w", err)
	}
	fmt.Fprintf(out, "Exported to: %s\n", dest)
	return nil
}
