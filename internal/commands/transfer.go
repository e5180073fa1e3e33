package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/vitaminmoo/vsp-ota/internal/ota"
	"github.com/vitaminmoo/vsp-ota/internal/protocol"
	"github.com/vitaminmoo/vsp-ota/internal/store"
)

// TransferSource is where the application comes from. Exactly one of File,
// URL and StoreHash is set.
type TransferSource struct {
	File      string
	URL       string
	StoreHash string
	Target    string // module filename, derived when empty
}

// Request builds the machine request for the source.
func (src TransferSource) Request() (ota.TransferRequest, error) {
	set := 0
	for _, v := range []string{src.File, src.URL, src.StoreHash} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return ota.TransferRequest{}, errors.New("give exactly one of a file, --url or --from-store")
	}

	req := ota.TransferRequest{Target: src.Target}
	switch {
	case src.URL != "":
		req.URL = src.URL

	case src.StoreHash != "":
		st, err := store.OpenDefault()
		if err != nil {
			return req, fmt.Errorf("failed to open store: %w", err)
		}
		hash, err := st.Resolve(src.StoreHash)
		if err != nil {
			return req, err
		}
		meta, err := st.GetMetadata(hash)
		if err != nil {
			return req, err
		}
		data, err := st.Get(hash)
		if err != nil {
			return req, err
		}
		// The stored image is always a binary, so the name only has to
		// avoid looking like source.
		req.Name = store.ShortHash(hash) + ".bin"
		req.Data = data
		if req.Target == "" {
			req.Target = meta.Target
		}

	default:
		data, err := os.ReadFile(src.File)
		if err != nil {
			return req, fmt.Errorf("failed to read file: %w", err)
		}
		req.Name = src.File
		req.Data = data
	}
	return req, nil
}

// Transfer sends an application to the module.
func Transfer(ctx context.Context, env *Env, lo LinkOptions, ui UIOptions, src TransferSource) error {
	req, err := src.Request()
	if err != nil {
		return err
	}

	target := req.Target
	if target == "" {
		name := req.Name
		if name == "" {
			name = req.URL
		}
		target = protocol.TargetName(name)
	}

	s := &session{env: env, link: lo, ui: ui}
	return result(s.execute(ctx, "Transfer "+target, ota.StartTransfer{Request: req}))
}

// Info queries the module's name, firmware and free space.
func Info(ctx context.Context, env *Env, lo LinkOptions, ui UIOptions) error {
	s := &session{env: env, link: lo, ui: ui}
	return result(s.execute(ctx, "Module information", ota.StartQuery{}))
}
