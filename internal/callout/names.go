package callout

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Object names shared by the server and the callout module. The suffix GUID
// keeps them unique on a host.
const (
	NameSharedMemory = `Global\SHM_CALLOUT_NAME_{096DEB52-BA7A-40E9-8A3B-3A528D1243CB}`
	NameLock         = `Global\SHM_CALLOUT_LOCK_{096DEB52-BA7A-40E9-8A3B-3A528D1243CB}`
	NameSendEvent    = `Global\SHM_CALLOUT_EVENT_SEND_{096DEB52-BA7A-40E9-8A3B-3A528D1243CB}`
	NameReplyEvent   = `Global\SHM_CALLOUT_EVENT_REPLY_{096DEB52-BA7A-40E9-8A3B-3A528D1243CB}`
)

// DefaultDir is where machine-wide (Global\) objects live.
const DefaultDir = "/dev/shm"

// Names is the set of named objects that make up one channel.
type Names struct {
	SharedMemory string
	Lock         string
	SendEvent    string
	ReplyEvent   string
}

// DefaultNames returns the well-known channel names.
func DefaultNames() Names {
	return Names{
		SharedMemory: NameSharedMemory,
		Lock:         NameLock,
		SendEvent:    NameSendEvent,
		ReplyEvent:   NameReplyEvent,
	}
}

// ObjectPath maps a scoped object name onto a file under dir. The scope
// prefix (Global\ or Local\) is dropped; everything after it is the file
// name and must not contain a path separator.
func ObjectPath(dir, name string) (string, error) {
	base := name
	if i := strings.IndexByte(name, '\\'); i >= 0 {
		switch scope := name[:i]; scope {
		case "Global", "Local":
			base = name[i+1:]
		default:
			return "", fmt.Errorf("object name %q: unknown scope %q", name, scope)
		}
	}
	if base == "" || base == "." || base == ".." || strings.ContainsAny(base, "/\\") {
		return "", fmt.Errorf("object name %q: invalid file name %q", name, base)
	}
	return filepath.Join(dir, base), nil
}

type objectPaths struct {
	shm, lock, send, reply string
}

func (n Names) paths(dir string) (objectPaths, error) {
	var p objectPaths
	for _, o := range []struct {
		dst  *string
		name string
	}{
		{&p.shm, n.SharedMemory},
		{&p.lock, n.Lock},
		{&p.send, n.SendEvent},
		{&p.reply, n.ReplyEvent},
	} {
		path, err := ObjectPath(dir, o.name)
		if err != nil {
			return p, err
		}
		*o.dst = path
	}
	return p, nil
}
