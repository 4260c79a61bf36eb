package types

// Version is the canonical fedrun version reported by the CLI.
const Version = "0.3.0"

// ContractVersion is the version of the LoadEvent payload shape published to
// the journal and to notification adapters. It moves only when that shape
// changes.
const ContractVersion = "0.2.0"
