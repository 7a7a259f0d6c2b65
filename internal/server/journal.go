package server

import (
	"net"
	"unicode/utf8"

	"gps-station/internal/codec"
	"gps-station/internal/utilities"
)

const journalPrefix = "ALLTRACKINGS"

// journal appends raw device traffic to the daily journal when enabled. Text
// records are written as is, anything else as hex.
func (srv *TcpServer) journal(conn net.Conn, data []byte) {
	if srv.opts.RawLogDir == "" {
		return
	}
	payload := codec.BytesToHex(data)
	if len(data) > 0 && data[0] == '*' && utf8.Valid(data) {
		payload = string(data)
	}
	if err := utilities.CreateLog(srv.opts.RawLogDir, journalPrefix, conn.RemoteAddr().String()+" "+payload); err != nil {
		srv.logger.Debug("raw journal write failed", "err", err)
	}
}
