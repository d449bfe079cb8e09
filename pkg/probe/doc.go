// Package probe inspects part install trees and the shared stage and prime
// areas for the directories a build environment needs to know about.
//
// # Overview
//
// All probing is read-only. A candidate directory that does not exist is
// simply skipped; any other filesystem error is returned to the caller so
// that environment construction can abort instead of emitting a partial
// environment.
//
// Candidates are always reported in a fixed canonical order, never in
// filesystem enumeration order:
//
//	libraries: lib, usr/lib, lib/<triplet>, usr/lib/<triplet>
//	includes:  include, usr/include, include/<triplet>, usr/include/<triplet>
//
// # Linker configuration
//
// LinkerConfigPaths discovers ld.so.conf fragments below the library
// subdirectories of a root (for example the mesa fragments shipped under
// usr/lib/<triplet>/mesa) and returns the paths they list, re-rooted under
// the probed root.
//
// # Watching
//
// StageWatcher reports changes below the stage and prime roots so a caller
// can re-resolve environments while parts are being staged.
package probe
