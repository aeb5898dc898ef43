//go:build !linux

package scsi

import "github.com/marmos91/dittotape/pkg/device"

func sysOpen(string) (int, error) { return -1, device.ErrNotSupported }
func sysClose(int) error { return nil }
func sysRead(int, []byte) (int, error) { return 0, device.ErrNotSupported }
func sysWrite(int, []byte) (int, error) { return 0, device.ErrNotSupported }
func sysMtop(int, int16, int) error { return device.ErrNotSupported }
func sysStatus(int) (device.Status, error) { return device.Status{}, device.ErrNotSupported }
