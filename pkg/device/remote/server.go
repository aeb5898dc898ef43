package remote

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/marmos91/dittotape/internal/logger"
	"github.com/marmos91/dittotape/internal/telemetry"
	"github.com/marmos91/dittotape/pkg/bufpool"
	"github.com/marmos91/dittotape/pkg/device"
)

// Server exports one device. Connections are served concurrently but
// device calls are serialised; a connection that opened the device closes
// it when it goes away.
type Server struct {
	dev device.Device

	mu     sync.Mutex
	owner  net.Conn
	connWg sync.WaitGroup
}

// NewServer exports dev.
func NewServer(dev device.Device) *Server {
	return &Server{dev: dev}
}

// Serve accepts connections on ln until ctx is cancelled or ln fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	logger.Info("Remote tape server listening", logger.KeyAddress, ln.Addr().String(), logger.KeyDrive, s.dev.Name())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.connWg.Wait()
				return nil
			}
			return err
		}
		s.connWg.Add(1)
		go func() {
			defer s.connWg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	addr := conn.RemoteAddr().String()
	logger.Debug("Remote tape client connected", logger.KeyAddress, addr)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer func() {
		s.mu.Lock()
		if s.owner == conn {
			_ = s.dev.Close()
			s.owner = nil
		}
		s.mu.Unlock()
		_ = conn.Close()
	}()

	rd := bufio.NewReader(conn)
	for {
		var req Request
		if err := readMessage(rd, &req); err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				logger.Warn("Remote tape request failed", logger.KeyAddress, addr, logger.KeyError, err)
			}
			return
		}
		rep := s.traced(ctx, conn, &req)
		if err := writeMessage(conn, rep); err != nil {
			logger.Warn("Remote tape reply failed", logger.KeyAddress, addr, logger.KeyError, err)
			return
		}
	}
}

func (s *Server) traced(ctx context.Context, conn net.Conn, req *Request) *Reply {
	ctx, span := telemetry.StartRemoteSpan(ctx, ProcName(req.Proc), conn.RemoteAddr().String(),
		telemetry.Bytes(int64(len(req.Data))))
	defer span.End()

	rep := s.handle(ctx, conn, req)
	if rep.Code != codeOK {
		telemetry.RecordError(ctx, errors.New(rep.Message))
	}
	return rep
}

func (s *Server) handle(ctx context.Context, conn net.Conn, req *Request) *Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	rep := &Reply{XID: req.XID}
	if req.Proc != ProcOpen && s.owner != conn {
		rep.fail(device.ErrClosed)
		return rep
	}

	var err error
	switch req.Proc {
	case ProcOpen:
		if s.owner != nil && s.owner != conn {
			err = device.ErrNotReady
			break
		}
		if err = s.dev.Open(ctx); err == nil {
			s.owner = conn
			rep.Caps = uint32(s.dev.Capabilities())
		}

	case ProcClose:
		err = s.dev.Close()
		s.owner = nil

	case ProcRead:
		if req.Count < 0 || req.Count > MaxFragmentSize-4096 {
			err = device.ErrIO
			break
		}
		buf := bufpool.Get(int(req.Count))
		var n int
		n, err = s.dev.Read(buf)
		rep.N = int32(n)
		rep.Data = append([]byte(nil), buf[:n]...)
		bufpool.Put(buf)

	case ProcWrite:
		var n int
		n, err = s.dev.Write(req.Data)
		rep.N = int32(n)

	case ProcDo:
		err = s.dev.Do(device.Op(req.Op), int(req.Count))

	case ProcStatus:
		var st device.Status
		st, err = s.dev.Status()
		rep.Flags = uint32(st.Flags)
		rep.FileNo = int32(st.FileNo)
		rep.BlockNo = int32(st.BlockNo)
		rep.BlockSize = int32(st.BlockSize)

	case ProcGetBlockSize:
		var bs int
		bs, err = s.dev.BlockSize()
		rep.BlockSize = int32(bs)

	case ProcSetBlockSize:
		err = s.dev.SetBlockSize(int(req.Count))

	default:
		err = device.ErrNotSupported
	}
	rep.fail(err)
	return rep
}

func (r *Reply) fail(err error) {
	if err == nil {
		return
	}
	r.Code = codeOf(err)
	r.Message = err.Error()
}
