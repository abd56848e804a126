package linker

import (
	"strconv"
	"strings"

	"github.com/seeekr/mold/pkg/utils"
)

// ReadArchiveMembers extracts the .o members of a Unix ar(1) archive,
// resolving names stored in the GNU extended name table ("//") and
// preserving on-disk member order (that order becomes each member's
// load-order priority once the archive is folded into ctx.Objs).
func ReadArchiveMembers(file *File) []*File {
	contents := file.Contents
	if len(contents) < len(arMagic) || string(contents[:len(arMagic)]) != arMagic {
		utils.Fatal(file.Name + ": not an archive file")
	}
	contents = contents[len(arMagic):]

	var extendedNames []byte
	var members []*File

	for len(contents) >= 60 {
		name := strings.TrimRight(string(contents[0:16]), " ")
		sizeField := strings.TrimSpace(string(contents[48:58]))
		size, err := strconv.ParseInt(sizeField, 10, 64)
		utils.MustNo(err)

		data := contents[60 : 60+size]
		next := 60 + size
		if next%2 == 1 {
			next++
		}
		contents = contents[next:]

		switch {
		case name == "//":
			extendedNames = data
			continue
		case name == "/" || name == "":
			continue
		case strings.HasPrefix(name, "/"):
			off, err := strconv.Atoi(strings.TrimPrefix(name, "/"))
			utils.MustNo(err)
			end := off
			for end < len(extendedNames) && extendedNames[end] != '/' {
				end++
			}
			name = string(extendedNames[off:end])
		default:
			name = strings.TrimSuffix(name, "/")
		}

		members = append(members, &File{
			Name:     file.Name + "(" + name + ")",
			Contents: data,
			Parent:   file,
		})
	}

	return members
}
