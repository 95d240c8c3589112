/*
Package command parses the textual task definition files into task
definitions consumed by the scheduler.

A file is a sequence of blocks separated by blank lines. Lines starting
with '#' are comments. Each block carries a queue id, one shell command
per line, and trailing integer fields (memory, and in multi mode a gpu
count). Parsing is a pure function of the file bytes.
*/
package command
