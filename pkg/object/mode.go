package object

// NormalizeFileMode maps a file entry mode to one of the two file modes a
// tree can carry. Anything other than executable is a regular file.
func NormalizeFileMode(mode string) string {
	if mode == TreeModeExecutable {
		return TreeModeExecutable
	}
	return TreeModeFile
}

// IsExecutable reports whether mode marks an executable file.
func IsExecutable(mode string) bool {
	return mode == TreeModeExecutable
}

// FileMode returns the tree mode for a file with the given executable bit.
func FileMode(executable bool) string {
	if executable {
		return TreeModeExecutable
	}
	return TreeModeFile
}
