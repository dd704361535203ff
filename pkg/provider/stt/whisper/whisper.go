// Package whisper provides whisper.cpp-backed transcribers.
//
// Two variants are available:
//
//   - [Native] loads a whisper model in-process through the whisper.cpp CGO
//     bindings. Lowest latency, no extra process, but requires the whisper
//     static library at link time.
//   - [Server] talks to a running whisper-server binary (the REST front end
//     shipped with whisper.cpp, POST /inference). No CGO, and the model can
//     live on another machine.
//
// Both transcribe one complete utterance per call; the pipeline's segmenter
// decides where utterances begin and end.
package whisper

const defaultLanguage = "en"
