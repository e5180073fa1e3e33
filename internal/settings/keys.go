package settings

import (
	"fmt"
	"sort"
	"strings"
)

// Setting keys.
const (
	KeyUUID                 = "UUID"
	KeyTxChar               = "TxChar"
	KeyRxChar               = "RxChar"
	KeyMoChar               = "MoChar"
	KeyMiChar               = "MiChar"
	KeyRestrictUUID         = "RestrictUUID"
	KeyPacketSize           = "PacketSize"
	KeyOnlineXComp          = "OnlineXComp"
	KeyEnableSSL            = "EnableSSL"
	KeyDelFile              = "DelFile"
	KeyVerifyFile           = "VerifyFile"
	KeyDownloadAction       = "DownloadAction"
	KeyCheckFirmwareVersion = "CheckFirmwareVersion"
	KeyCheckFreeSpace       = "CheckFreeSpace"
	KeyXCompileServer       = "XCompileServer"
	KeyErrorCodesFile       = "ErrorCodesFile"
	KeyBaudRate             = "BaudRate"
)

// DefaultPacketSize is the write chunk size used when none is configured.
const DefaultPacketSize = 20

// Action is what happens to the module after a successful transfer.
type Action string

const (
	ActionNone       Action = "none"
	ActionDisconnect Action = "disconnect"
	ActionRestart    Action = "restart"
)

// ParseAction accepts an action name or the legacy numeric form (0, 1, 2).
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "nothing", "0":
		return ActionNone, nil
	case "disconnect", "1", "":
		return ActionDisconnect, nil
	case "restart", "2":
		return ActionRestart, nil
	}
	return "", fmt.Errorf("unknown download action %q (want none, disconnect or restart)", s)
}

type kind int

const (
	kindString kind = iota
	kindInt
	kindBool
)

type definition struct {
	kind kind
	def  any
	help string
}

var definitions = map[string]definition{
	KeyUUID:                 {kindString, "569a1101-b87f-490c-92cb-11ba5ea5167c", "VSP service UUID"},
	KeyTxChar:               {kindString, "2000", "TX (module to client) characteristic offset"},
	KeyRxChar:               {kindString, "2001", "RX (client to module) characteristic offset"},
	KeyMoChar:               {kindString, "2002", "Modem out characteristic offset"},
	KeyMiChar:               {kindString, "2003", "Modem in characteristic offset"},
	KeyRestrictUUID:         {kindBool, false, "Only list devices advertising the VSP service"},
	KeyPacketSize:           {kindInt, DefaultPacketSize, "Bytes per characteristic write"},
	KeyOnlineXComp:          {kindBool, true, "Cross-compile source files with the online XCompiler"},
	KeyEnableSSL:            {kindBool, false, "Use https for the online XCompiler"},
	KeyDelFile:              {kindBool, true, "Delete the target file before writing"},
	KeyVerifyFile:           {kindBool, true, "Verify the file (CRC and listing) after writing"},
	KeyDownloadAction:       {kindString, string(ActionDisconnect), "After transfer: none, disconnect or restart"},
	KeyCheckFirmwareVersion: {kindBool, true, "Check for newer firmware when querying a module"},
	KeyCheckFreeSpace:       {kindBool, true, "Warn when the module lacks storage space"},
	KeyXCompileServer:       {kindString, "uwterminalx.lairdtech.com", "Online XCompiler host"},
	KeyErrorCodesFile:       {kindString, "", "File of module error code descriptions"},
	KeyBaudRate:             {kindInt, 115200, "UART baud rate"},
}

// Keys returns every known key, sorted.
func Keys() []string {
	keys := make([]string, 0, len(definitions))
	for k := range definitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Help returns the description of key.
func Help(key string) string {
	return definitions[key].help
}
