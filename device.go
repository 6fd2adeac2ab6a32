package norfs

import (
	"errors"

	"github.com/hupe1980/norfs/flash"
)

// device wraps every driver error in a *FlashError.
type device struct {
	flash.Flash
}

func wrapFlash(op string, address uint32, err error) error {
	if err == nil {
		return nil
	}
	var fe *FlashError
	if errors.As(err, &fe) {
		return err
	}
	return &FlashError{Op: op, Address: address, Err: err}
}

func (d device) Reset() error {
	return wrapFlash("reset", 0, d.Flash.Reset())
}

func (d device) EraseSector4K(address uint32) error {
	return wrapFlash("erase 4k", address, d.Flash.EraseSector4K(address))
}

func (d device) EraseBlock32K(address uint32) error {
	return wrapFlash("erase 32k", address, d.Flash.EraseBlock32K(address))
}

func (d device) EraseBlock64K(address uint32) error {
	return wrapFlash("erase 64k", address, d.Flash.EraseBlock64K(address))
}

func (d device) ReadBlock(address uint32, p []byte) error {
	return wrapFlash("read", address, d.Flash.ReadBlock(address, p))
}

func (d device) WritePage(address uint32, p []byte) error {
	return wrapFlash("write", address, d.Flash.WritePage(address, p))
}
