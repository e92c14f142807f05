// Package threds provides data-driven event matching and routing
// machinery.
//
// The engine and its data model are in package 'core'; command-line
// tools are in 'cmd'.
package threds
