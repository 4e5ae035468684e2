// Package check validates transformed modules and compares their behaviour
// with the input by running both in wazero.
//
// A Checker owns one wazero runtime configured for the 2.0 core features.
// Run instantiates a module anonymously and performs a list of calls
// against that instance, so state carried in globals, tables and memory
// evolves the same way for both sides of a Compare. Results are compared
// as raw uint64 values; a trap only has to match another trap.
package check
