// Package session drives one container through the backend.
//
// A Session owns exactly one backend transcoder and moves through
//
//	Created --Transcode ok--> Transcoded --Destroy--> Destroyed
//	Created --Transcode fails--> Failed --Destroy--> Destroyed
//	Created --Destroy--> Destroyed
//
// Getters are valid only in Transcoded. Every rejection is an error value;
// nothing panics. Run wraps New and Destroy so the transcoder is released
// on every path:
//
//	err := session.Run(ctx, tok, func(s *session.Session) error {
//	    if err := s.Transcode(ctx, data, mask); err != nil {
//	        return err
//	    }
//	    img, err = s.Image(ctx)
//	    return err
//	})
package session
