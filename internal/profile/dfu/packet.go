package dfu

import (
	"encoding/binary"

	"github.com/srg/gattc/internal/gatt"
)

// DefaultChunkSize is the payload of one packet write.
const DefaultChunkSize = 20

// Packet receives image sizes, the init packet and the firmware image.
type Packet struct {
	*gatt.BLECharacteristic
}

func newPacket(base *gatt.BLECharacteristic) gatt.Characteristic {
	return &Packet{BLECharacteristic: base}
}

// WriteImageSizes writes the softdevice, bootloader and application sizes as
// little-endian uint32s.
func (p *Packet) WriteImageSizes(softDevice, bootloader, application uint32) error {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:], softDevice)
	binary.LittleEndian.PutUint32(buf[4:], bootloader)
	binary.LittleEndian.PutUint32(buf[8:], application)
	return p.SetRaw(buf)
}

// WriteChunked streams data in chunkSize pieces; the last may be shorter.
// progress, when set, is called after each chunk with the bytes sent so far.
func (p *Packet) WriteChunked(data []byte, chunkSize int, progress func(sent, total int)) error {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	for off := 0; off < len(data); off += chunkSize {
		end := min(off+chunkSize, len(data))
		if err := p.SetRaw(data[off:end]); err != nil {
			return err
		}
		if progress != nil {
			progress(end, len(data))
		}
	}
	return nil
}
