package ekf

import "math"

// QuatMult returns the Hamilton product p ⊗ q.
func QuatMult(p0, p1, p2, p3, q0, q1, q2, q3 float64) (r0, r1, r2, r3 float64) {
	r0 = p0*q0 - p1*q1 - p2*q2 - p3*q3
	r1 = p0*q1 + p1*q0 + p2*q3 - p3*q2
	r2 = p0*q2 - p1*q3 + p2*q0 + p3*q1
	r3 = p0*q3 + p1*q2 - p2*q1 + p3*q0
	return
}

// QuatDiv returns p⁻¹ ⊗ q, the rotation taking p to q.  p must be unit norm.
func QuatDiv(p0, p1, p2, p3, q0, q1, q2, q3 float64) (r0, r1, r2, r3 float64) {
	return QuatMult(p0, -p1, -p2, -p3, q0, q1, q2, q3)
}

// RotVecToQuat converts a rotation vector to a unit quaternion.  Uses the
// exact half-angle form, falling back to the first-order [1, r/2] expansion
// near zero where the exact form loses precision.
func RotVecToQuat(rx, ry, rz float64) (q0, q1, q2, q3 float64) {
	a := math.Sqrt(rx*rx + ry*ry + rz*rz)
	if a < 1e-12 {
		n := math.Sqrt(1 + 0.25*a*a)
		return 1 / n, 0.5 * rx / n, 0.5 * ry / n, 0.5 * rz / n
	}
	s := math.Sin(0.5*a) / a
	return math.Cos(0.5 * a), s * rx, s * ry, s * rz
}

// QuatToRotVec converts a unit quaternion to a rotation vector, twice the
// vector part scaled by the half-angle.  The scalar part is forced positive
// first so the result is the short way around.
func QuatToRotVec(q0, q1, q2, q3 float64) (rx, ry, rz float64) {
	if q0 < 0 {
		q0, q1, q2, q3 = -q0, -q1, -q2, -q3
	}
	v := math.Sqrt(q1*q1 + q2*q2 + q3*q3)
	if v < 1e-12 {
		return 2 * q1, 2 * q2, 2 * q3
	}
	a := 2 * math.Atan2(v, q0)
	return a * q1 / v, a * q2 / v, a * q3 / v
}

// QuatToDCM returns the direction cosine matrix of a unit quaternion, rotating
// body-frame vectors into the NED frame.
func QuatToDCM(q0, q1, q2, q3 float64) (t [3][3]float64) {
	t[0][0] = q0*q0 + q1*q1 - q2*q2 - q3*q3
	t[0][1] = 2 * (q1*q2 - q0*q3)
	t[0][2] = 2 * (q1*q3 + q0*q2)
	t[1][0] = 2 * (q1*q2 + q0*q3)
	t[1][1] = q0*q0 - q1*q1 + q2*q2 - q3*q3
	t[1][2] = 2 * (q2*q3 - q0*q1)
	t[2][0] = 2 * (q1*q3 - q0*q2)
	t[2][1] = 2 * (q2*q3 + q0*q1)
	t[2][2] = q0*q0 - q1*q1 - q2*q2 + q3*q3
	return
}

// ToQuaternion calculates the quaternion corresponding to the Tait-Bryan
// angles phi (roll), theta (pitch), psi (heading), all rad.
func ToQuaternion(phi, theta, psi float64) (float64, float64, float64, float64) {
	cphi := math.Cos(phi / 2)
	sphi := math.Sin(phi / 2)
	ctheta := math.Cos(theta / 2)
	stheta := math.Sin(theta / 2)
	cpsi := math.Cos(psi / 2)
	spsi := math.Sin(psi / 2)

	q0 := cphi*ctheta*cpsi + sphi*stheta*spsi
	q1 := sphi*ctheta*cpsi - cphi*stheta*spsi
	q2 := cphi*stheta*cpsi + sphi*ctheta*spsi
	q3 := cphi*ctheta*spsi - sphi*stheta*cpsi
	return q0, q1, q2, q3
}

// FromQuaternion calculates the Tait-Bryan angles phi, theta, psi
// corresponding to the quaternion.  Heading is returned in [0, 2π).
func FromQuaternion(q0, q1, q2, q3 float64) (float64, float64, float64) {
	phi := math.Atan2(2*(q0*q1+q2*q3), q0*q0-q1*q1-q2*q2+q3*q3)
	s := 2 * (q0*q2 - q1*q3) / (q0*q0 + q1*q1 + q2*q2 + q3*q3)
	if s > 1 {
		s = 1
	}
	if s < -1 {
		s = -1
	}
	theta := math.Asin(s)
	psi := math.Atan2(2*(q0*q3+q1*q2), q0*q0+q1*q1-q2*q2-q3*q3)
	if psi < 0 {
		psi += 2 * math.Pi
	}
	return phi, theta, psi
}

// wrapPi wraps an angle into (-π, π].
func wrapPi(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
