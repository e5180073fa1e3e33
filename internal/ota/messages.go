package ota

import (
	"errors"
	"fmt"

	"github.com/vitaminmoo/vsp-ota/internal/xcompile"
)

const (
	msgCancelled      = "Operation cancelled."
	msgDisconnected   = "Device disconnected."
	msgBusy           = "Currently busy, please wait for the current operation to finish or cancel it."
	msgNotConnected   = "Not connected to a module."
	msgPhyDeclined    = "VSP OTA operation cancelled."
	msgSpaceDeclined  = "Insufficient module storage space, OTA cancelled!"
	msgTransferring   = "Transferring OTA data..."
	msgDownloading    = "Downloading remote file..."
	msgCheckFirmware  = "Received module information, checking for latest firmware..."
	msgEmptyImage     = "Remote service returned an empty application."
	msgFileMissing    = "OTA download failed - file is missing."
	msgVerified       = "OTA download complete - file & CRC verified!"
	msgVerifiedNoCRC  = "OTA download complete - file verified (CRC unsupported)!"
	msgComplete       = "OTA download complete!"
	msgFwUnsupported  = "Firmware/device unsupported, latest firmware not known."
	msgSuffixDisconn  = " Disconnecting..."
	msgSuffixRestart  = " Restarting..."
	msgCheckingRemote = "Checking for online XCompiler support..."
	msgXCompiling     = "XCompiling application..."
)

const phyWarning = "Your client has a BT v5 radio, there is a known issue which can cause a disconnect " +
	"during a VSP operation on the BL652 of this firmware version - which is more likely to occur with larger " +
	"applications, do you wish to continue?"

func errorPrefix(p Phase) string {
	switch p {
	case QueryingVersion:
		return "Error retrieving module information ("
	case CheckingSpace:
		return "Error retrieving storage space ("
	case QueryingInfo:
		return "Error during module query ("
	default:
		return "Error during download ("
	}
}

func timeoutMessage(p Phase) string {
	const retry = " - please ensure module is in hardware command mode VSP and retry."
	switch p {
	case QueryingVersion:
		return "Response timeout awaiting module firmware details" + retry
	case CheckingSpace:
		return "Response timeout awaiting module storage space" + retry
	case QueryingInfo:
		return "Response timeout awaiting module query details" + retry
	case Verifying:
		return "Response timeout whilst attempting to verify application - please try again."
	default:
		return "Response timeout whilst downloading application to module - please try again."
	}
}

func checksumMessage(expected, actual string) string {
	return fmt.Sprintf("OTA download failed - checksum failure, expected 0x%s got 0x%s.", expected, actual)
}

func spaceQuestion(required int, free int64) string {
	return fmt.Sprintf("There is insufficient storage space available on the module, %d bytes are required "+
		"but only %d bytes are free therefore the OTA will likely fail.\n\n"+
		"Are you sure you want to continue with this operation?", required, free)
}

func writeFailure(packetSize int) string {
	msg := "Characteristic write failed - Ensure device is in hardware command VSP mode, try reconnecting again."
	if packetSize > 20 {
		msg += "\r\nA larger packet size is set, ensure you have correctly configured the module and that it supports this size packet."
	}
	return msg
}

// compileMessage maps a remote compile failure to its operator message.
func compileMessage(err error) (string, bool) {
	var xe *xcompile.Error
	if !errors.As(err, &xe) {
		return "HTTP Download error: " + err.Error(), false
	}
	switch xe.Kind {
	case xcompile.KindFileSize:
		return fmt.Sprintf("Invalid filesize, must be between 0 - %d bytes.", xcompile.MaxFileSize), false
	case xcompile.KindJSON:
		return "Error parsing HTTP response: JSON data not valid.", false
	case xcompile.KindServer:
		return "Server error: " + xe.Detail, true
	case xcompile.KindXCompile:
		return "Error with XCompilation: " + xe.Detail, true
	case xcompile.KindUnsupported:
		return "XCompile error: " + xe.Detail, true
	case xcompile.KindUnknown:
		return "Unknown error - is your ISP altering your network traffic?", true
	case xcompile.KindSSLCert:
		return "Error: specified URL's SSL certificate is not valid.", false
	case xcompile.KindHTTPStatus:
		return fmt.Sprintf("HTTP error code: %d", xe.Status), false
	default:
		return "HTTP Download error: " + generalDetail(xe), false
	}
}

// downloadMessage maps a remote file download failure.
func downloadMessage(err error) string {
	var xe *xcompile.Error
	if !errors.As(err, &xe) {
		return "HTTP Download error: " + err.Error()
	}
	switch xe.Kind {
	case xcompile.KindFileSize:
		return "Error: filesize is either too big or small to be used."
	case xcompile.KindSSLCert:
		return "Error: specified URL's SSL certificate is not valid."
	case xcompile.KindHTTPStatus:
		return fmt.Sprintf("Failed to download file, HTTP response code: %d", xe.Status)
	default:
		return "HTTP Download error: " + generalDetail(xe)
	}
}

// firmwareMessage maps a failed latest firmware check.
func firmwareMessage(err error) string {
	var xe *xcompile.Error
	if !errors.As(err, &xe) {
		return "Firmware version check failed: " + err.Error()
	}
	switch xe.Kind {
	case xcompile.KindSSLCert:
		return "Firmware version check failed: SSL certificate invalid"
	case xcompile.KindJSON:
		return "Firmware version check failed: JSON decoding failed"
	case xcompile.KindHTTPStatus:
		return fmt.Sprintf("Firmware version check failed: Status code %d, %s", xe.Status, xe.Detail)
	default:
		return "Firmware version check failed: " + generalDetail(xe)
	}
}

func generalDetail(xe *xcompile.Error) string {
	if xe.Detail != "" {
		return xe.Detail
	}
	if xe.Err != nil {
		return xe.Err.Error()
	}
	return xe.Kind.String()
}
