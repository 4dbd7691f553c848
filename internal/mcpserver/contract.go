package mcpserver

// RuleFormatContract describes the rule file format so LLM consumers can
// propose rules that compile.
const RuleFormatContract = `# Ordo Rule Format

Rules live in the ` + "`" + `rules` + "`" + ` list of the config file (YAML or TOML).
They are evaluated in order and the first rule whose predicates all hold wins.
A file that matches no rule is left alone.

## Structure

` + "```" + `yaml
rules:
  - name: photos                 # REQUIRED, unique
    type: image                  # image | document | archive | executable | text | unknown
    target: Pictures/${year}/${month}
    conflict: rename             # rename (default) | overwrite | skip
  - name: old-downloads
    extensions: [zip, tar, gz]   # case-insensitive, without the dot
    age: 30d                     # Nh, Nd, Nw, Nm (30 days), Ny (365 days) or a Go duration
    min_size: 1048576            # bytes
    target: Archive/${ext}
  - name: invoices
    regex: '(?i)^invoice'        # matched against the file name
    mime: application/pdf        # glob on the detected MIME type, or a kind name
    target: Finance/${year}/${filename}
  - name: notes
    extensions: [md]
    extract:
      project: frontmatter:project
    target: Notes/${project}
` + "```" + `

## Targets

1. **Targets are relative to the organizer root.** Absolute targets and targets
   that climb out of the root with ` + "`" + `..` + "`" + ` are rejected.
2. **Placeholders** are ` + "`" + `${year}` + "`" + `, ` + "`" + `${month}` + "`" + `, ` + "`" + `${day}` + "`" + ` (from the
   modification time), ` + "`" + `${ext}` + "`" + `, ` + "`" + `${name}` + "`" + ` (stem), ` + "`" + `${filename}` + "`" + ` and ` + "`" + `${kind}` + "`" + `.
   Keys listed under ` + "`" + `extract` + "`" + ` add fields of their own. A value of the form
   ` + "`" + `frontmatter:author` + "`" + ` reads the key from the file's YAML frontmatter
   (` + "`" + `title` + "`" + ` falls back to the first heading, ` + "`" + `tag` + "`" + ` is the first tag);
   any other value is used as written.
3. **A target without a file placeholder is a directory.** The file keeps its name inside it.
4. **An unresolved placeholder leaves the file unmatched** with a diagnostic; it never
   produces a literal ` + "`" + `${...}` + "`" + ` directory.

## Conflicts

- ` + "`" + `rename` + "`" + ` appends " (1)", " (2)" ... before the extension and never overwrites.
- ` + "`" + `overwrite` + "`" + ` moves the occupant aside first, so undo can restore it.
- ` + "`" + `skip` + "`" + ` leaves the source where it is.

Identical content is stored once: later duplicates become hard links to the first copy.
Every change is journaled and ` + "`" + `undo_session` + "`" + ` reverts a whole session.
`
