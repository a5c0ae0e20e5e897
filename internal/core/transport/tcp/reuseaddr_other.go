//go:build !unix

package tcp

import "syscall"

// reuseAddrControl 非 unix 平台不设置 socket 选项
func reuseAddrControl(_, _ string, _ syscall.RawConn) error {
	return nil
}
