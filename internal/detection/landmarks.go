package detection

// Face mesh indices (468/478 point topology).
var (
	LeftEyeLandmarks  = []int{33, 160, 158, 133, 153, 144}
	RightEyeLandmarks = []int{362, 385, 387, 263, 373, 380}
	MouthLandmarks    = []int{61, 39, 0, 269, 291, 405, 17, 181}
)

// Body pose indices (33 point skeleton).
const (
	PoseLeftEar    = 7
	PoseRightEar   = 8
	PoseLeftWrist  = 15
	PoseRightWrist = 16

	PoseLandmarkCount = 33
)

// HandLandmarkCount is the number of points per detected hand.
const HandLandmarkCount = 21
