package loader

import (
	"encoding/hex"
	"os"
	"strings"

	"golang.org/x/xerrors"
)

// fileLoader stores the keys in hexadecimal in a file.
//
// - implements loader.Loader
type fileLoader struct {
	path string
	size int

	readFn   func(path string) ([]byte, error)
	writeFn  func(path string, data []byte, perm os.FileMode) error
	renameFn func(from, to string) error
}

// NewFileLoader creates a new loader that is using the file given in
// parameter. A positive size makes the loader reject the keys of a different
// length.
func NewFileLoader(path string, size int) Loader {
	return fileLoader{
		path:     path,
		size:     size,
		readFn:   os.ReadFile,
		writeFn:  os.WriteFile,
		renameFn: os.Rename,
	}
}

// LoadOrCreate implements loader.Loader. It either loads the key from the file
// if it exists, or it generates a new one and stores it in the file. The file
// created has minimal read permission for the current user (0400) and is only
// visible once completely written.
func (l fileLoader) LoadOrCreate(g Generator) ([]byte, error) {
	data, err := l.readFn(l.path)
	if err == nil {
		return l.decode(data)
	}

	if !os.IsNotExist(err) {
		return nil, xerrors.Errorf("while reading file: %v", err)
	}

	key, err := g.Generate()
	if err != nil {
		return nil, xerrors.Errorf("generator failed: %v", err)
	}

	if l.size > 0 && len(key) != l.size {
		return nil, xerrors.Errorf("generated key has size %d instead of %d", len(key), l.size)
	}

	tmp := l.path + ".tmp"

	err = l.writeFn(tmp, []byte(hex.EncodeToString(key)+"\n"), 0400)
	if err != nil {
		return nil, xerrors.Errorf("while writing: %v", err)
	}

	err = l.renameFn(tmp, l.path)
	if err != nil {
		os.Remove(tmp)
		return nil, xerrors.Errorf("while moving file: %v", err)
	}

	return key, nil
}

func (l fileLoader) decode(data []byte) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, xerrors.Errorf("while decoding '%s': %v", l.path, err)
	}

	if l.size > 0 && len(key) != l.size {
		return nil, xerrors.Errorf("key of '%s' has size %d instead of %d", l.path, len(key), l.size)
	}

	return key, nil
}
