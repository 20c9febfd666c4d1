//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package hostinfo

func kernelRelease() string { return "" }
