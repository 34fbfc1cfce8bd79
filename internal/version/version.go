package version

// Current is the released version of the enricher, without a "v" prefix.
const Current = "0.1.0"
