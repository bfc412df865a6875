package watcher

import (
	"fmt"
	"strings"
)

// Category is a bit set describing what happened to a watched path.
// PathWatcher callers request the categories they care about and receive
// the subset that actually occurred.
type Category uint32

const (
	// CategoryNone is the empty category set.
	CategoryNone Category = 0
	// CategoryDelete reports that the watched path was unlinked.
	CategoryDelete Category = 0x1
	// CategoryWrite reports a content change on the watched path.
	CategoryWrite Category = 0x2
	// CategoryExtend reports that the watched file grew.
	CategoryExtend Category = 0x4
	// CategoryAttribute reports a metadata change such as permissions
	// or timestamps.
	CategoryAttribute Category = 0x8
	// CategoryLink reports a link count change on the watched path.
	CategoryLink Category = 0x10
	// CategoryRename reports that the watched path was moved.
	CategoryRename Category = 0x20
	// CategoryRevoke reports that access to the path was revoked, for
	// example because the backing filesystem was unmounted.
	CategoryRevoke Category = 0x40

	// CategoryCreate is synthesized when a path that did not exist at
	// start time appears. It never maps to a kernel notification.
	CategoryCreate Category = 0x1000
	// CategoryDirChanged is synthesized for directory targets whose
	// entry list changed. Directory writes are reclassified to it so
	// callers can tell content writes and entry churn apart.
	CategoryDirChanged Category = 0x2000
)

// Flags is a bit set describing one batched stream event.
type Flags uint32

const (
	// FlagNone is the empty flag set.
	FlagNone Flags = 0
	// FlagMustScanSubtree tells the receiver to rescan the affected
	// subtree because events were lost.
	FlagMustScanSubtree Flags = 0x1
	// FlagUserDropped reports that the in-process buffer overflowed.
	FlagUserDropped Flags = 0x2
	// FlagKernelDropped reports that the kernel queue overflowed.
	FlagKernelDropped Flags = 0x4
	// FlagIdsWrapped reports that event ids wrapped around zero.
	FlagIdsWrapped Flags = 0x8
	// FlagHistoryDone marks the boundary between replayed history and
	// live events after a resume.
	FlagHistoryDone Flags = 0x10
	// FlagRootChanged reports that a watched root itself was deleted
	// or moved.
	FlagRootChanged Flags = 0x20
	// FlagMount reports that a volume was mounted under a root.
	FlagMount Flags = 0x40
	// FlagUnmount reports that a volume was unmounted under a root.
	FlagUnmount Flags = 0x80
	// FlagCreated reports that the path appeared.
	FlagCreated Flags = 0x100
	// FlagRemoved reports that the path was removed.
	FlagRemoved Flags = 0x200
	// FlagInodeMetaChanged reports a metadata change on the path.
	FlagInodeMetaChanged Flags = 0x400
	// FlagRenamed reports that the path was moved from or to.
	FlagRenamed Flags = 0x800
	// FlagModified reports a content change on the path.
	FlagModified Flags = 0x1000
	// FlagFinderInfoChanged reports a change to legacy finder info.
	FlagFinderInfoChanged Flags = 0x2000
	// FlagOwnerChanged reports an ownership change on the path.
	FlagOwnerChanged Flags = 0x4000
	// FlagXattrChanged reports an extended attribute change.
	FlagXattrChanged Flags = 0x8000
	// FlagIsFile marks the subject as a regular file.
	FlagIsFile Flags = 0x10000
	// FlagIsDirectory marks the subject as a directory.
	FlagIsDirectory Flags = 0x20000
	// FlagIsSymlink marks the subject as a symbolic link.
	FlagIsSymlink Flags = 0x40000
	// FlagOwnEvent marks a change made by the watching process itself.
	FlagOwnEvent Flags = 0x80000
	// FlagIsHardlink marks the subject as a hard link.
	FlagIsHardlink Flags = 0x100000
	// FlagIsLastHardlink marks the subject as the last hard link to
	// its inode.
	FlagIsLastHardlink Flags = 0x200000
)

var categoryNames = []struct {
	bit  Category
	name string
}{
	{CategoryDelete, "Delete"},
	{CategoryWrite, "Write"},
	{CategoryExtend, "Extend"},
	{CategoryAttribute, "Attribute"},
	{CategoryLink, "Link"},
	{CategoryRename, "Rename"},
	{CategoryRevoke, "Revoke"},
	{CategoryCreate, "Create"},
	{CategoryDirChanged, "DirChanged"},
}

var flagNames = []struct {
	bit  Flags
	name string
}{
	{FlagMustScanSubtree, "MustScanSubtree"},
	{FlagUserDropped, "UserDropped"},
	{FlagKernelDropped, "KernelDropped"},
	{FlagIdsWrapped, "IdsWrapped"},
	{FlagHistoryDone, "HistoryDone"},
	{FlagRootChanged, "RootChanged"},
	{FlagMount, "Mount"},
	{FlagUnmount, "Unmount"},
	{FlagCreated, "Created"},
	{FlagRemoved, "Removed"},
	{FlagInodeMetaChanged, "InodeMetaChanged"},
	{FlagRenamed, "Renamed"},
	{FlagModified, "Modified"},
	{FlagFinderInfoChanged, "FinderInfoChanged"},
	{FlagOwnerChanged, "OwnerChanged"},
	{FlagXattrChanged, "XattrChanged"},
	{FlagIsFile, "IsFile"},
	{FlagIsDirectory, "IsDirectory"},
	{FlagIsSymlink, "IsSymlink"},
	{FlagOwnEvent, "OwnEvent"},
	{FlagIsHardlink, "IsHardlink"},
	{FlagIsLastHardlink, "IsLastHardlink"},
}

// Has reports whether every bit in other is set in c.
func (c Category) Has(other Category) bool { return c&other == other }

// Union returns the categories present in either set.
func (c Category) Union(other Category) Category { return c | other }

// Without returns c with the bits in other cleared.
func (c Category) Without(other Category) Category { return c &^ other }

// String renders the named bits in declaration order, comma joined.
// Unknown bits are kept in the value but never rendered.
func (c Category) String() string {
	if c == CategoryNone {
		return "None"
	}
	parts := make([]string, 0, 4)
	for _, entry := range categoryNames {
		if c&entry.bit != 0 {
			parts = append(parts, entry.name)
		}
	}
	if len(parts) == 0 {
		return "None"
	}
	return strings.Join(parts, ",")
}

// ParseCategory resolves one category name to its bit. Matching is
// case insensitive.
func ParseCategory(name string) (Category, error) {
	trimmed := strings.TrimSpace(name)
	for _, entry := range categoryNames {
		if strings.EqualFold(entry.name, trimmed) {
			return entry.bit, nil
		}
	}
	return CategoryNone, fmt.Errorf("unknown category %q", name)
}

// ParseCategories resolves a list of category names into one set. An
// empty list yields CategoryNone.
func ParseCategories(names []string) (Category, error) {
	set := CategoryNone
	for _, name := range names {
		category, err := ParseCategory(name)
		if err != nil {
			return CategoryNone, err
		}
		set = set.Union(category)
	}
	return set, nil
}

// Has reports whether every bit in other is set in f.
func (f Flags) Has(other Flags) bool { return f&other == other }

// Union returns the flags present in either set.
func (f Flags) Union(other Flags) Flags { return f | other }

// Without returns f with the bits in other cleared.
func (f Flags) Without(other Flags) Flags { return f &^ other }

// String renders the named bits in declaration order, comma joined.
// Unknown bits are kept in the value but never rendered.
func (f Flags) String() string {
	if f == FlagNone {
		return "None"
	}
	parts := make([]string, 0, 4)
	for _, entry := range flagNames {
		if f&entry.bit != 0 {
			parts = append(parts, entry.name)
		}
	}
	if len(parts) == 0 {
		return "None"
	}
	return strings.Join(parts, ",")
}

// ParseFlag resolves one flag name to its bit. Matching is case
// insensitive.
func ParseFlag(name string) (Flags, error) {
	trimmed := strings.TrimSpace(name)
	for _, entry := range flagNames {
		if strings.EqualFold(entry.name, trimmed) {
			return entry.bit, nil
		}
	}
	return FlagNone, fmt.Errorf("unknown flag %q", name)
}

// ParseFlags resolves a list of flag names into one set. An empty list
// yields FlagNone, which stream watchers treat as no filter.
func ParseFlags(names []string) (Flags, error) {
	set := FlagNone
	for _, name := range names {
		flag, err := ParseFlag(name)
		if err != nil {
			return FlagNone, err
		}
		set = set.Union(flag)
	}
	return set, nil
}
