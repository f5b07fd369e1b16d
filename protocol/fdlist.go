package protocol

import "os"

// FdList holds the descriptors received with one datagram. Each is owned
// until taken; the remaining ones are released by Close.
type FdList struct {
	files []*os.File
}

// NewFdList takes ownership of fds
func NewFdList(fds []int) *FdList {
	l := &FdList{files: make([]*os.File, 0, len(fds))}
	for _, fd := range fds {
		l.files = append(l.files, os.NewFile(uintptr(fd), "spawn-fd"))
	}
	return l
}

// Len returns the number of descriptors not yet taken
func (l *FdList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.files)
}

// Take moves the next descriptor out of the list
func (l *FdList) Take() (*os.File, error) {
	if l.Len() == 0 {
		return nil, malformed("missing file descriptor")
	}
	f := l.files[0]
	l.files = l.files[1:]
	return f, nil
}

// Close releases every descriptor not yet taken
func (l *FdList) Close() {
	if l == nil {
		return
	}
	for _, f := range l.files {
		f.Close()
	}
	l.files = nil
}
