/*
Package pipeline allows to build and execute streaming media graphs.

Concept

A pipeline is a directed graph of elements. Elements expose typed pads,
src pads produce data and sink pads consume it. A link connects exactly
one src pad with one sink pad, and is only made if formats of both pads
intersect:

    Source - the origin of the stream, e.g. videotestsrc;
    Filter - the manipulator of the stream, e.g. audioconvert;
    Sink - the destination of the stream, e.g. fakesink.

Elements are made by name from factories registered in the Runtime:

    rt, err := pipeline.Init(pipeline.InitFactories(element.Factories()...))
    src, err := rt.Make("audiotestsrc", "")
    sink, err := rt.Make("fakesink", "")

States

All elements move through the same ladder of states:

    NULL -> READY -> PAUSED -> PLAYING

Pipeline drives its elements through every intermediate step, from sinks
to sources. If any element refuses a step, Error message is posted and
all elements are brought back to NULL. Elements can complete a step
asynchronously, in that case SetState returns state.Async and the rest of
steps is executed in background.

Bus

Elements report to the controlling code with messages posted on the
pipeline bus. Run is the standard controller: it starts the pipeline and
waits for end-of-stream or an error:

    err := pipeline.Run(ctx, p)

Dynamic links

Some elements only know their outputs once the stream is inspected, for
example decoders. They add pads while playing. LinkDynamic registers a
link that is made when such pad appears and its format family matches:

    p.LinkDynamic(decoder, convert.Pad("sink"), caps.MustParse("audio/x-raw"))
*/
package pipeline
