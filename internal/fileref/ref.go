// Package fileref computes canonical storage-relative paths for chat
// attachments and derives authenticated retrieval URLs from them. Every
// representation of the same logical object resolves to the same path, so all
// URL derivation goes through a single place.
package fileref

import "strings"

// refKind discriminates the descriptor variants.
type refKind string

const (
	kindFolderFile refKind = "folder_file"
	kindRoomFile   refKind = "room_file"
	kindBarePath   refKind = "bare_path"
)

// RoomFolderPrefix is the storage folder that scopes files to a chat room.
const RoomFolderPrefix = "chat-files"

// Ref is a tagged attachment descriptor. Construct one with FolderFile,
// RoomFile, or BarePath; resolution is exhaustive over the three variants.
type Ref struct {
	kind     refKind
	folder   string
	filename string
	raw      string
}

// FolderFile describes a file inside an explicit storage folder.
// An empty folder degrades to a RoomFile so resolution stays deterministic.
func FolderFile(folder, filename string) Ref {
	folder = strings.TrimSpace(folder)
	filename = strings.TrimSpace(filename)
	if folder == "" {
		return RoomFile(filename)
	}
	return Ref{kind: kindFolderFile, folder: folder, filename: filename}
}

// RoomFile describes a file scoped to whatever room is supplied at
// resolution time.
func RoomFile(filename string) Ref {
	return Ref{kind: kindRoomFile, filename: strings.TrimSpace(filename)}
}

// BarePath wraps a raw path string. Strings that already contain a separator
// are treated as canonical and pass through unchanged.
func BarePath(path string) Ref {
	return Ref{kind: kindBarePath, raw: strings.TrimSpace(path)}
}

// resolve computes the canonical storage-relative path for the descriptor.
// Unresolvable input yields "" and the caller logs a warning; resolution
// never fails with an error.
func (r Ref) resolve(roomID string) string {
	roomID = strings.TrimSpace(roomID)
	switch r.kind {
	case kindFolderFile:
		if r.filename == "" {
			return ""
		}
		return r.folder + "/" + r.filename
	case kindRoomFile:
		if r.filename == "" {
			return ""
		}
		if roomID != "" {
			return RoomFolderPrefix + "/" + roomID + "/" + r.filename
		}
		return r.filename
	case kindBarePath:
		if r.raw == "" {
			return ""
		}
		if strings.Contains(r.raw, "/") {
			return r.raw
		}
		if roomID != "" {
			return RoomFolderPrefix + "/" + roomID + "/" + r.raw
		}
		return r.raw
	default:
		return ""
	}
}
