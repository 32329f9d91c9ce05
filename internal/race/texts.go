package race

// SampleTexts is the default reference-text corpus. A room picks one at
// random when it is created.
var SampleTexts = []string{
	"The quick brown fox jumps over the lazy dog. This sentence contains all the letters in the English alphabet.",
	"Programming is the process of creating a set of instructions that tell a computer how to perform a task.",
	"The best way to predict the future is to invent it. Computer scientists are the architects of the digital world.",
	"Typing quickly and accurately is an essential skill for programmers and writers alike in the digital age.",
	"Real-time systems demand careful coordination. Every event must be handled exactly once, no matter when it arrives.",
}
