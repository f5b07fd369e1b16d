package unixsocket

import (
	"bytes"
	"errors"
	"io"
	"os"
	"syscall"
	"testing"
	"time"
)

func TestBaseline(t *testing.T) {
	a, b, err := NewSocketPair()
	if err != nil {
		t.Fatal(err)
	}
	m := make([]byte, 1024)

	go func() {
		msg := []byte("message")
		a.SendMsg(msg, Msg{})
	}()

	n, _, err := b.RecvMsg(m)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(m[:n], []byte("message")) {
		t.Fatal("not equal")
	}
}

func TestSendRecvMsg_Fds(t *testing.T) {
	a, b, err := NewSocketPair()
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	defer b.Close()

	// Create a file to send its fd
	tmpfile, err := os.CreateTemp("", "unixsocket-fd")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpfile.Name())
	defer tmpfile.Close()

	msg := []byte("fdtest")
	go func() {
		a.SendMsg(msg, Msg{Fds: []int{int(tmpfile.Fd())}})
	}()

	buf := make([]byte, 64)
	n, m, err := b.RecvMsg(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf[:n], msg) {
		t.Errorf("RecvMsg got %q, want %q", buf[:n], msg)
	}
	if len(m.Fds) != 1 {
		t.Errorf("expected 1 fd, got %d", len(m.Fds))
	}
	if m.Fds != nil {
		syscall.Close(m.Fds[0])
	}
}

func TestSendRecvMsg_Cred(t *testing.T) {
	a, b, err := NewSocketPair()
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	defer b.Close()

	// Enable credential passing
	if err := a.SetPassCred(1); err != nil {
		t.Fatal(err)
	}
	if err := b.SetPassCred(1); err != nil {
		t.Fatal(err)
	}

	// credentials other than our own need CAP_SYS_ADMIN
	msg := []byte("credtest")
	cred := &syscall.Ucred{Pid: int32(os.Getpid()), Uid: uint32(os.Getuid()), Gid: uint32(os.Getgid())}
	if err := a.SendMsg(msg, Msg{Cred: cred}); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 64)
	n, m, err := b.RecvMsg(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf[:n], msg) {
		t.Errorf("RecvMsg got %q, want %q", buf[:n], msg)
	}
	if m.Cred == nil {
		t.Fatal("expected credential, got nil")
	}
	if *m.Cred != *cred {
		t.Errorf("RecvMsg got cred %+v, want %+v", *m.Cred, *cred)
	}
}

func TestNewSocketPair_Close(t *testing.T) {
	a, b, err := NewSocketPair()
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("a.Close() error: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("b.Close() error: %v", err)
	}
}

func TestNewSocket_InvalidFd(t *testing.T) {
	// Use an invalid fd
	_, err := NewSocket(-1)
	if err == nil {
		t.Error("expected error for invalid fd, got nil")
	}
}

func TestSetPassCred_InvalidSocket(t *testing.T) {
	a, b, err := NewSocketPair()
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	defer b.Close()

	// Close the socket to make it invalid
	a.Close()
	err = a.SetPassCred(1)
	if err == nil {
		t.Error("expected error on SetPassCred for closed socket, got nil")
	}
}

func fill(t *testing.T, s *Socket) int {
	t.Helper()
	msg := make([]byte, 1024)
	for i := 0; ; i++ {
		err := s.SendMsgNonblock(msg, Msg{})
		if errors.Is(err, syscall.EAGAIN) {
			return i
		}
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestSendMsgNonblock_Again(t *testing.T) {
	a, b, err := NewSocketPair()
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	defer b.Close()

	n := fill(t, a)
	if n == 0 {
		t.Fatal("expected at least one message before EAGAIN")
	}
	if err := a.WaitWritable(50 * time.Millisecond); err != ErrTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		buf := make([]byte, 2048)
		for i := 0; i < n; i++ {
			b.RecvMsg(buf)
		}
	}()
	if err := a.WaitWritable(10 * time.Second); err != nil {
		t.Fatal(err)
	}
	if err := a.SendMsgNonblock([]byte("retry"), Msg{}); err != nil {
		t.Fatal(err)
	}
}

func TestRecvMsg_EOF(t *testing.T) {
	a, b, err := NewSocketPair()
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	a.Close()

	buf := make([]byte, 16)
	// net wraps the EOF in an *net.OpError
	if _, _, err := b.RecvMsg(buf); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestRecvMsg_Truncated(t *testing.T) {
	a, b, err := NewSocketPair()
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	defer b.Close()

	if err := a.SendMsg([]byte("0123456789"), Msg{}); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	n, m, err := b.RecvMsg(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 || !m.Truncated {
		t.Fatalf("expected truncated message, got n=%d %+v", n, m)
	}
}

func TestNewSocketFromFile(t *testing.T) {
	fd, err := syscall.Socketpair(syscall.AF_LOCAL, syscall.SOCK_SEQPACKET|syscall.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatal(err)
	}
	a, err := NewSocketFromFile(os.NewFile(uintptr(fd[0]), "a"))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := NewSocket(fd[1])
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if err := a.SendMsg([]byte("x"), Msg{}); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	if n, _, err := b.RecvMsg(buf); err != nil || n != 1 {
		t.Fatalf("RecvMsg = %d, %v", n, err)
	}
}
