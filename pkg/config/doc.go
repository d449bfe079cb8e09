// Package config loads project manifests and turns them into engine inputs.
//
// # Overview
//
// A manifest is a snapcraft.yaml file declaring project metadata and an
// ordered mapping of parts. Loading happens in three steps:
//
//  1. Decode - YAML is decoded with unknown keys rejected; part order is kept
//  2. Validate - struct tags are checked, then the document is unified with
//     the built-in #Manifest CUE schema
//  3. Resolve - NewProject derives the ProjectContext and DependencyGraph
//
// # Usage Example
//
//	path, err := config.LocateManifest(projectDir)
//	if err != nil {
//	    return err
//	}
//	m, err := config.NewLoader().LoadManifest(ctx, path)
//	if err != nil {
//	    return err // config.ValidationErrors lists every problem
//	}
//	project, err := config.NewProject(m, config.ProjectOptions{
//	    ExtensionsDir: settings.ExtensionsDir,
//	})
//
// # Manifest Structure
//
//	name: hello
//	version: "1.0"
//	base: core18
//	confinement: strict
//	parts:
//	  libfoo:
//	    plugin: autotools
//	  hello:
//	    plugin: nil
//	    after: [libfoo]
//	    build-environment:
//	      - CFLAGS: "$CFLAGS -O2"
//	    override-build: |
//	      make install DESTDIR=$SNAPCRAFT_PART_INSTALL
//
// Omitted keys default to base core18, grade stable and strict confinement.
//
// # Settings
//
// Tool settings come from the environment: PARTCRAFT_EXTENSIONS_DIR,
// PARTCRAFT_DB, PARTCRAFT_MAX_PARALLEL and LOG_LEVEL. Only the command line
// reads them; the engine receives plain values.
package config
