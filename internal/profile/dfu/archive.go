package dfu

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/buger/jsonparser"
)

const manifestName = "manifest.json"

// Archive is a firmware package: the init packet and the image it describes.
type Archive struct {
	Type  ImageType
	Init  []byte // .dat
	Image []byte // .bin
}

// manifestSections lists the manifest keys in the order they are preferred.
var manifestSections = []struct {
	key string
	typ ImageType
}{
	{"application", ImageApplication},
	{"bootloader", ImageBootloader},
	{"softdevice", ImageSoftDevice},
}

// LoadArchive reads a firmware zip from disk.
func LoadArchive(path string) (*Archive, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open firmware archive: %w", err)
	}
	defer zr.Close()
	return readArchive(&zr.Reader)
}

// ReadArchive reads a firmware zip from r.
func ReadArchive(r io.ReaderAt, size int64) (*Archive, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("read firmware archive: %w", err)
	}
	return readArchive(zr)
}

// ParseArchive reads a firmware zip held in memory.
func ParseArchive(data []byte) (*Archive, error) {
	return ReadArchive(bytes.NewReader(data), int64(len(data)))
}

func readArchive(zr *zip.Reader) (*Archive, error) {
	manifest, err := readEntry(zr, manifestName)
	if err != nil {
		return nil, err
	}

	for _, sec := range manifestSections {
		binName, err := jsonparser.GetString(manifest, "manifest", sec.key, "bin_file")
		if errors.Is(err, jsonparser.KeyPathNotFoundError) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %s.bin_file: %w", manifestName, sec.key, err)
		}
		datName, err := jsonparser.GetString(manifest, "manifest", sec.key, "dat_file")
		if err != nil {
			return nil, fmt.Errorf("%s: %s.dat_file: %w", manifestName, sec.key, err)
		}

		a := &Archive{Type: sec.typ}
		if a.Image, err = readEntry(zr, binName); err != nil {
			return nil, err
		}
		if a.Init, err = readEntry(zr, datName); err != nil {
			return nil, err
		}
		return a, nil
	}
	return nil, fmt.Errorf("%s: no image section", manifestName)
}

func readEntry(zr *zip.Reader, name string) ([]byte, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, fmt.Errorf("firmware archive: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("firmware archive: read %s: %w", name, err)
	}
	return data, nil
}
