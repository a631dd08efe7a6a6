package dhcpv4

import "unicode/utf16"

// Char is the output character type of the hardware address formatter:
// byte for narrow (ASCII/UTF-8) text, uint16 for wide (UTF-16) text.
type Char interface {
	~byte | ~uint16
}

const hexDigits = "0123456789abcdef"

// HWAddrLen returns the number of characters needed to render n octets,
// two hex digits per octet plus one separator between octets.
func HWAddrLen(n int) int {
	if n > CHAddrLen {
		n = CHAddrLen
	}
	if n <= 0 {
		return 0
	}
	return 3*n - 1
}

// AppendHWAddr appends addr rendered as two-digit lowercase hex octets
// separated by sep to dst and returns the extended buffer. At most
// CHAddrLen octets are rendered.
func AppendHWAddr[T Char](dst []T, addr []byte, sep byte) []T {
	if len(addr) > CHAddrLen {
		addr = addr[:CHAddrLen]
	}
	for i, b := range addr {
		if i > 0 {
			dst = append(dst, T(sep))
		}
		dst = append(dst, T(hexDigits[b>>4]), T(hexDigits[b&0x0f]))
	}
	return dst
}

// FormatHWAddr renders addr as a colon-separated narrow string,
// e.g. "00:1a:2b:3c:4d:5e".
func FormatHWAddr(addr []byte) string {
	return string(AppendHWAddr(make([]byte, 0, HWAddrLen(len(addr))), addr, ':'))
}

// FormatHWAddrWide renders addr as colon-separated UTF-16 code units. The
// digits are identical to FormatHWAddr.
func FormatHWAddrWide(addr []byte) []uint16 {
	return AppendHWAddr(make([]uint16, 0, HWAddrLen(len(addr))), addr, ':')
}

// WideString decodes UTF-16 code units produced by FormatHWAddrWide.
func WideString(w []uint16) string {
	return string(utf16.Decode(w))
}
