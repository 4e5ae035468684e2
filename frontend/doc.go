// Package frontend turns a decoded function body into SSA form.
//
// The builder simulates the operand stack and the control stack of the
// body, creating one block per structured join, loop header and branch
// fallthrough. Locals are tracked per block and read on demand: a read that
// cannot be answered locally walks single-predecessor chains and otherwise
// installs a block parameter. Parameters whose incoming arguments all agree
// are removed again, so a join only carries a parameter when its
// predecessors really disagree.
//
// Blocks move through three states. Structured joins stay Open until their
// end, when every branch to them is known. Loop headers are sealed
// provisionally on entry and resealed at the loop's end; parameters created
// in between are resolved at that point, in creation order.
//
// Constants are value-numbered and placed in the entry block, and a local
// that is read before any write observes the zero constant of its type.
//
// Errors are *errors.Error values of phase build carrying the function index
// and the position of the offending instruction.
package frontend
