package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/vitaminmoo/vsp-ota/internal/config"
	"github.com/vitaminmoo/vsp-ota/internal/errcodes"
	"github.com/vitaminmoo/vsp-ota/internal/settings"
	"github.com/vitaminmoo/vsp-ota/internal/xcompile"
)

// Overrides change settings for one invocation without saving them.
type Overrides struct {
	PacketSize      int
	Action          string
	Server          string
	NoVerify        bool
	NoDelete        bool
	NoXCompile      bool
	NoSpaceCheck    bool
	NoFirmwareCheck bool
}

// Apply writes the overrides into s, which should be an overlay.
func (o Overrides) Apply(s *settings.Store) error {
	if o.PacketSize != 0 {
		if err := s.Set(settings.KeyPacketSize, strconv.Itoa(o.PacketSize)); err != nil {
			return err
		}
	}
	if o.Action != "" {
		if err := s.Set(settings.KeyDownloadAction, o.Action); err != nil {
			return err
		}
	}
	if o.Server != "" {
		if err := s.Set(settings.KeyXCompileServer, o.Server); err != nil {
			return err
		}
	}

	flags := []struct {
		off bool
		key string
	}{
		{o.NoVerify, settings.KeyVerifyFile},
		{o.NoDelete, settings.KeyDelFile},
		{o.NoXCompile, settings.KeyOnlineXComp},
		{o.NoSpaceCheck, settings.KeyCheckFreeSpace},
		{o.NoFirmwareCheck, settings.KeyCheckFirmwareVersion},
	}
	for _, f := range flags {
		if f.off {
			if err := s.SetBool(f.key, false); err != nil {
				return err
			}
		}
	}
	return nil
}

// Env is what every command needs: settings and the services they point at.
type Env struct {
	Settings *settings.Store
	Out      io.Writer
	In       io.Reader
}

// NewEnv opens the saved settings and applies the overrides on top.
func NewEnv(o Overrides) (*Env, error) {
	saved, err := settings.OpenDefault()
	if err != nil {
		return nil, fmt.Errorf("failed to open settings: %w", err)
	}
	s := saved.Overlay()
	if err := o.Apply(s); err != nil {
		return nil, err
	}
	return &Env{Settings: s, Out: os.Stdout, In: os.Stdin}, nil
}

// Compiler returns the online XCompiler client the settings point at.
func (e *Env) Compiler() *xcompile.Client {
	return xcompile.NewClient(e.Settings.GetString(settings.KeyXCompileServer), e.Settings.GetBool(settings.KeyEnableSSL))
}

// ErrorTable loads the configured error code file. A missing setting gives
// an empty table; a broken file is logged and ignored.
func (e *Env) ErrorTable() *errcodes.Table {
	path := e.Settings.GetString(settings.KeyErrorCodesFile)
	if path == "" {
		return errcodes.Empty()
	}
	t, err := errcodes.Load(path)
	if err != nil {
		config.Log.WithError(err).Warn("Error code file not loaded")
		return errcodes.Empty()
	}
	config.Debugf("Loaded %d error codes (version %s)", t.Len(), t.Version())
	return t
}
