package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/vitaminmoo/vsp-ota/internal/commands"
	"github.com/vitaminmoo/vsp-ota/internal/config"
	"github.com/vitaminmoo/vsp-ota/internal/settings"
	"github.com/vitaminmoo/vsp-ota/internal/store"
)

// CLI is the root command structure for vspota.
type CLI struct {
	Verbose bool `short:"v" help:"Enable verbose debug output"`

	Transfer TransferCmd `cmd:"" help:"Send an application to the module (cross-compiling source files)"`
	Info     InfoCmd     `cmd:"" help:"Show module name, firmware and free space"`
	Explore  ExploreCmd  `cmd:"" help:"List all BLE services and characteristics"`
	Settings SettingsCmd `cmd:"" help:"Show or change saved settings"`
	Store    StoreCmd    `cmd:"" help:"Compiled and downloaded application store"`
	Checksum ChecksumCmd `cmd:"" help:"Print the CRC the module will report for a file"`
	Errcode  ErrcodeCmd  `cmd:"" help:"Look up a module error code"`
	Firmware FirmwareCmd `cmd:"" help:"Check whether a firmware version is the latest"`
}

// AfterApply configures logging before any command runs.
func (c *CLI) AfterApply() error {
	config.Setup(c.Verbose)
	return nil
}

// --- Shared flags ---

// LinkFlags select the module and the transport used to reach it.
type LinkFlags struct {
	Module      string        `short:"m" help:"Module name to scan for (substring, case-insensitive)"`
	Address     string        `short:"a" help:"Module BLE address"`
	ScanTimeout time.Duration `name:"scan-timeout" default:"10s" help:"How long to scan for the module"`

	Port string `help:"Use a serial port instead of BLE" placeholder:"DEVICE"`
	Baud int    `help:"Serial baud rate (default from BaudRate setting)"`

	Bridge        string `help:"Use a WebSocket bridge instead of BLE" placeholder:"ws://HOST/PATH"`
	BridgeUser    string `name:"bridge-user" help:"Bridge username (password from VSPOTA_PASSWORD or prompt)"`
	SkipSSLVerify bool   `name:"skip-ssl-verify" help:"Skip TLS certificate checks for wss:// bridges"`
}

func (f LinkFlags) options() commands.LinkOptions {
	return commands.LinkOptions{
		Name:          f.Module,
		Address:       f.Address,
		ScanTimeout:   f.ScanTimeout,
		Port:          f.Port,
		Baud:          f.Baud,
		Bridge:        f.Bridge,
		BridgeUser:    f.BridgeUser,
		SkipSSLVerify: f.SkipSSLVerify,
	}
}

// OverrideFlags change settings for this run only.
type OverrideFlags struct {
	PacketSize      int    `name:"packet-size" help:"Bytes per write (overrides PacketSize)"`
	Action          string `help:"After a transfer: none, disconnect or restart"`
	Server          string `help:"Online XCompiler host"`
	NoVerify        bool   `name:"no-verify" help:"Skip CRC and listing verification"`
	NoDelete        bool   `name:"no-delete" help:"Do not delete the target file first"`
	NoXCompile      bool   `name:"no-xcompile" help:"Send source files as they are"`
	NoSpaceCheck    bool   `name:"no-space-check" help:"Skip the free space check"`
	NoFirmwareCheck bool   `name:"no-firmware-check" help:"Skip the latest firmware check"`
}

func (f OverrideFlags) env() (*commands.Env, error) {
	return commands.NewEnv(commands.Overrides{
		PacketSize:      f.PacketSize,
		Action:          f.Action,
		Server:          f.Server,
		NoVerify:        f.NoVerify,
		NoDelete:        f.NoDelete,
		NoXCompile:      f.NoXCompile,
		NoSpaceCheck:    f.NoSpaceCheck,
		NoFirmwareCheck: f.NoFirmwareCheck,
	})
}

// UIFlags control presentation.
type UIFlags struct {
	Plain bool `help:"Plain text output even on a terminal"`
	Yes   bool `short:"y" help:"Answer yes to every warning"`
	Phy2M bool `name:"phy-2m" help:"This client's radio supports 2M PHY (enables the BL652 28.7.3.0 warning)"`
}

func (f UIFlags) options() commands.UIOptions {
	return commands.UIOptions{Plain: f.Plain, AssumeYes: f.Yes, Client2M: f.Phy2M}
}

// --- Module commands ---

type TransferCmd struct {
	File      string `arg:"" optional:"" type:"existingfile" help:"Application (.uwc) or smartBASIC source (.sb, .txt)"`
	URL       string `name:"url" help:"Download the application from a URL first"`
	FromStore string `name:"from-store" placeholder:"HASH" help:"Send a stored image (full or short hash)"`
	Target    string `name:"name" help:"Filename on the module (default: file name up to the first dot)"`

	LinkFlags     `embed:""`
	OverrideFlags `embed:""`
	UIFlags       `embed:""`
}

func (c *TransferCmd) Run(globals *CLI) error {
	env, err := c.env()
	if err != nil {
		return err
	}
	src := commands.TransferSource{File: c.File, URL: c.URL, StoreHash: c.FromStore, Target: c.Target}
	return commands.Transfer(context.Background(), env, c.LinkFlags.options(), c.UIFlags.options(), src)
}

type InfoCmd struct {
	LinkFlags     `embed:""`
	OverrideFlags `embed:""`
	UIFlags       `embed:""`
}

func (c *InfoCmd) Run(globals *CLI) error {
	env, err := c.env()
	if err != nil {
		return err
	}
	return commands.Info(context.Background(), env, c.LinkFlags.options(), c.UIFlags.options())
}

type ExploreCmd struct {
	Module      string        `short:"m" help:"Module name to scan for"`
	Address     string        `short:"a" help:"Module BLE address"`
	ScanTimeout time.Duration `name:"scan-timeout" default:"10s" help:"How long to scan for the module"`
}

func (c *ExploreCmd) Run(globals *CLI) error {
	env, err := commands.NewEnv(commands.Overrides{})
	if err != nil {
		return err
	}
	lo := commands.LinkOptions{Name: c.Module, Address: c.Address, ScanTimeout: c.ScanTimeout}
	return commands.Explore(context.Background(), env, lo)
}

// --- Settings commands ---

type SettingsCmd struct {
	Show  SettingsShowCmd  `cmd:"" default:"1" help:"Show all settings"`
	Get   SettingsGetCmd   `cmd:"" help:"Print one setting"`
	Set   SettingsSetCmd   `cmd:"" help:"Change and save one setting"`
	Reset SettingsResetCmd `cmd:"" help:"Restore one or all settings to defaults"`
}

func openSettings() (*settings.Store, error) {
	s, err := settings.OpenDefault()
	if err != nil {
		return nil, fmt.Errorf("failed to open settings: %w", err)
	}
	return s, nil
}

type SettingsShowCmd struct{}

func (c *SettingsShowCmd) Run(globals *CLI) error {
	s, err := openSettings()
	if err != nil {
		return err
	}
	return commands.SettingsShow(stdout, s)
}

type SettingsGetCmd struct {
	Key string `arg:"" help:"Setting name"`
}

func (c *SettingsGetCmd) Run(globals *CLI) error {
	s, err := openSettings()
	if err != nil {
		return err
	}
	return commands.SettingsGet(stdout, s, c.Key)
}

type SettingsSetCmd struct {
	Key   string `arg:"" help:"Setting name"`
	Value string `arg:"" help:"New value"`
}

func (c *SettingsSetCmd) Run(globals *CLI) error {
	s, err := openSettings()
	if err != nil {
		return err
	}
	return commands.SettingsSet(stdout, s, c.Key, c.Value)
}

type SettingsResetCmd struct {
	Key string `arg:"" optional:"" help:"Setting name (all when omitted)"`
}

func (c *SettingsResetCmd) Run(globals *CLI) error {
	s, err := openSettings()
	if err != nil {
		return err
	}
	return commands.SettingsReset(stdout, s, c.Key)
}

// --- Store commands ---

type StoreCmd struct {
	List   StoreListCmd   `cmd:"" default:"1" help:"List all stored images"`
	Show   StoreShowCmd   `cmd:"" help:"Show details of a stored image"`
	Export StoreExportCmd `cmd:"" help:"Export an image to a file"`
}

func openStore() (*store.Store, error) {
	s, err := store.OpenDefault()
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return s, nil
}

type StoreListCmd struct{}

func (c *StoreListCmd) Run(globals *CLI) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	return commands.StoreList(stdout, s)
}

type StoreShowCmd struct {
	Hash string `arg:"" help:"Image hash (full or short)"`
}

func (c *StoreShowCmd) Run(globals *CLI) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	return commands.StoreShow(stdout, s, c.Hash)
}

type StoreExportCmd struct {
	Hash   string `arg:"" help:"Image hash (full or short)"`
	Output string `arg:"" help:"Output file path"`
}

func (c *StoreExportCmd) Run(globals *CLI) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	return commands.StoreExport(stdout, s, c.Hash, c.Output)
}

// --- Offline tools ---

type ChecksumCmd struct {
	File string `arg:"" type:"existingfile" help:"Application file"`
}

func (c *ChecksumCmd) Run(globals *CLI) error {
	env, err := commands.NewEnv(commands.Overrides{})
	if err != nil {
		return err
	}
	return commands.Checksum(env, c.File)
}

type ErrcodeCmd struct {
	Code string `arg:"" help:"Error code in hex as the module prints it, or decimal with a d suffix"`
}

func (c *ErrcodeCmd) Run(globals *CLI) error {
	env, err := commands.NewEnv(commands.Overrides{})
	if err != nil {
		return err
	}
	return commands.ErrCode(env, c.Code)
}

type FirmwareCmd struct {
	Device  string `arg:"" help:"Module type, e.g. BL652"`
	Version string `arg:"" help:"Firmware version, e.g. 28.7.3.0"`
	Server  string `help:"Online XCompiler host"`
}

func (c *FirmwareCmd) Run(globals *CLI) error {
	env, err := commands.NewEnv(commands.Overrides{Server: c.Server})
	if err != nil {
		return err
	}
	return commands.Firmware(context.Background(), env, c.Device, c.Version)
}
